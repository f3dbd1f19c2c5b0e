package main

import "github.com/ValentinKolb/dCell/cmd"

func main() {
	cmd.Execute()
}
