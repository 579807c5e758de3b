package main

import "github.com/frahmantamala/cashback-settlement/cmd"

func main() {
	cmd.Execute()
}
