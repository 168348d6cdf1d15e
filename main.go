/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package main

import "github.com/hub-api/apiserver/cmd"

func main() {
	cmd.Execute()
}
