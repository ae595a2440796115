package main

import "github.com/R3E-Network/oracle_layer/internal/cli"

func main() {
	cli.Execute()
}
