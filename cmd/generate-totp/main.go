package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/pquerna/otp/totp"
)

func main() {
	newSecret := flag.Bool("new", false, "generate a new secret instead of printing the current code")
	account := flag.String("account", "admin", "account name for the provisioning URI")
	flag.Parse()

	if *newSecret {
		key, err := totp.Generate(totp.GenerateOpts{
			Issuer:      "nvct-backend",
			AccountName: *account,
		})
		if err != nil {
			fmt.Printf("Error generating TOTP secret: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Secret: %s\n", key.Secret())
		fmt.Printf("URI:    %s\n", key.URL())
		fmt.Println("Set ADMIN_TOTP_SECRET to the secret and load the URI into an authenticator app.")
		return
	}

	secret := os.Getenv("ADMIN_TOTP_SECRET")
	if secret == "" {
		fmt.Println("ADMIN_TOTP_SECRET is not set (use -new to create one)")
		os.Exit(1)
	}

	// 生成当前 TOTP code
	code, err := totp.GenerateCode(secret, time.Now())
	if err != nil {
		fmt.Printf("Error generating TOTP code: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Current TOTP Code: %s\n", code)
	fmt.Printf("Valid for: ~30 seconds\n")
}
