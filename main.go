package main

import (
	"fmt"

	"github.com/appstronomer/umon/cmd"
)

func main() {
	if err := cmd.Run(); err != nil {
		fmt.Println(err.Error())
		return
	}
}
