package main

import "github.com/samsaffron/noma/cmd"

func main() {
	cmd.Execute()
}
