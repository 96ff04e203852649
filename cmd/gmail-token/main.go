// Command gmail-token exchanges an OAuth authorization code for the refresh
// token of one monitored mailbox.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gmail "google.golang.org/api/gmail/v1"
)

func main() {
	inbox := flag.String("inbox", "male", "mailbox the token is for: male or female")
	redirect := flag.String("redirect", "http://localhost:8080/callback", "OAuth redirect URL")
	flag.Parse()

	envName, ok := map[string]string{
		"male":   "MALE_INBOX_REFRESH_TOKEN",
		"female": "FEMALE_INBOX_REFRESH_TOKEN",
	}[strings.ToLower(*inbox)]
	if !ok {
		logrus.Fatalf("unknown inbox %q", *inbox)
	}

	_ = godotenv.Load()
	clientID := os.Getenv("GMAIL_CLIENT_ID")
	clientSecret := os.Getenv("GMAIL_CLIENT_SECRET")
	if clientID == "" || clientSecret == "" {
		logrus.Fatal("Please set GMAIL_CLIENT_ID and GMAIL_CLIENT_SECRET environment variables")
	}

	cfg := &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Scopes:       []string{gmail.GmailReadonlyScope, gmail.GmailModifyScope},
		Endpoint:     google.Endpoint,
		RedirectURL:  *redirect,
	}

	authURL := cfg.AuthCodeURL("state-token", oauth2.AccessTypeOffline, oauth2.ApprovalForce)
	fmt.Printf("Sign in as the %s inbox and open:\n%v\n", *inbox, authURL)
	fmt.Println("\nAfter authorization, copy the 'code' parameter from the redirect URL.")

	var authCode string
	fmt.Print("\nEnter the authorization code: ")
	if _, err := fmt.Scan(&authCode); err != nil {
		logrus.Fatalf("Unable to read authorization code: %v", err)
	}

	tok, err := cfg.Exchange(context.Background(), authCode)
	if err != nil {
		logrus.Fatalf("Unable to retrieve token from web: %v", err)
	}
	if tok.RefreshToken == "" {
		logrus.Fatal("No refresh token returned; revoke the app's access and try again")
	}

	fmt.Println("\nAdd the refresh token to your environment:")
	fmt.Printf("export %s=%q\n", envName, tok.RefreshToken)
}
