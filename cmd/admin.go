package cmd

import (
	"fmt"

	"github.com/clusterw/wgo-ui/config"
	"github.com/clusterw/wgo-ui/database"
	"github.com/clusterw/wgo-ui/service"
)

func ResetAdmin() {
	err := database.InitDB(config.GetDBPath())
	if err != nil {
		fmt.Println(err)
		return
	}

	userService := service.UserService{}
	err = userService.ResetCredentials("admin", "admin")
	if err != nil {
		fmt.Println("reset admin credentials failed:", err)
	} else {
		fmt.Println("reset admin credentials success")
	}
}

func UpdateAdmin(username string, password string) {
	err := database.InitDB(config.GetDBPath())
	if err != nil {
		fmt.Println(err)
		return
	}

	if username == "" || password == "" {
		fmt.Println("both -username and -password are required")
		return
	}
	userService := service.UserService{}
	err = userService.ResetCredentials(username, password)
	if err != nil {
		fmt.Println("update admin credentials failed:", err)
	} else {
		fmt.Println("update admin credentials success")
	}
}

func ShowAdmin() {
	err := database.InitDB(config.GetDBPath())
	if err != nil {
		fmt.Println(err)
		return
	}
	userService := service.UserService{}
	username, err := userService.GetUsername()
	if err != nil {
		fmt.Println("get current admin info failed:", err)
		return
	}
	fmt.Println("Admin username:", username)
	fmt.Println("The password is stored hashed, use -reset or -password to change it")
}
