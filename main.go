package main

import "github.com/nickjwilliams1987/MscCompSci-Final-Project/cmd"

func main() {
	cmd.Execute()
}
