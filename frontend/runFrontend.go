package frontend

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/maxelsson/habitkeep/frontend/client"
	"github.com/maxelsson/habitkeep/frontend/cmd"
)

// RunFrontend starts the interactive CLI against a running backend.
func RunFrontend() {
	// Load the .env file
	err := godotenv.Load("frontend/.env")
	if err != nil {
		fmt.Println("Error loading .env file")
	}

	// Read the environment variables
	authToken := os.Getenv("AUTH_TOKEN")
	authTokenRefresh := os.Getenv("AUTH_TOKEN_REFRESH")
	serverURL := os.Getenv("SERVER_URL")

	if authToken == "" {
		authToken = "habitkeep_auth_token"
	}
	if authTokenRefresh == "" {
		authTokenRefresh = "habitkeep_auth_token_refresh"
	}

	client.InitClient(serverURL, authToken, authTokenRefresh)
	cmd.InitCmd()
	cmd.Execute()
}
