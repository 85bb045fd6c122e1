package main

import (
	"flag"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/smarttransit/booking-backend/internal/utils"
	"github.com/smarttransit/booking-backend/pkg/jwt"
)

func main() {
	userID := flag.String("user", "", "also print a development access token for this user id")
	roles := flag.String("roles", jwt.RolePassenger, "comma separated roles for the development token")
	expiry := flag.Duration("expiry", 24*time.Hour, "lifetime of the development token")
	flag.Parse()

	fmt.Println("===========================================")
	fmt.Println("Secret Generator for SmartTransit Booking")
	fmt.Println("===========================================")
	fmt.Println()

	secret, err := utils.GenerateSecret(32)
	if err != nil {
		log.Fatalf("Failed to generate secret: %v", err)
	}

	fmt.Println("Add this to your .env file:")
	fmt.Println()
	fmt.Printf("JWT_SECRET=%s\n", secret)

	if *userID != "" {
		id, err := uuid.Parse(*userID)
		if err != nil {
			log.Fatalf("Invalid user id: %v", err)
		}
		token, err := jwt.NewService(secret, *expiry).GenerateAccessToken(id, strings.Split(*roles, ","))
		if err != nil {
			log.Fatalf("Failed to sign token: %v", err)
		}
		fmt.Println()
		fmt.Println("Development access token (signed with the secret above):")
		fmt.Println()
		fmt.Println(token)
	}

	fmt.Println()
	fmt.Println("IMPORTANT: Keep these secrets safe and never commit them to version control!")
	fmt.Println("===========================================")
}
