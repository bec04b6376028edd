package main

import "github.com/contratai/ms-go-payments/cmd"

func main() {
	cmd.Execute()
}
