package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"

	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/service"
	"golang.org/x/term"
)

// issue-token mints a JWT for local testing. Real identities come from the
// external user service.
func main() {
	var (
		tokenType = flag.String("type", "", "Token type: student or admin")
		userID    = flag.Int("user", 0, "User ID")
		perms     = flag.String("perms", "", "Comma-separated admin permissions (default: all)")
		askSecret = flag.Bool("ask-secret", false, "Prompt for the signing secret instead of using JWT_SECRET")
	)
	flag.Parse()

	// ─── Load Configuration ────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	reader := bufio.NewReader(os.Stdin)

	// ─── CLI Input ─────────────────────────────────────────────────────
	if *tokenType == "" {
		fmt.Print("Token type (student/admin): ")
		line, _ := reader.ReadString('\n')
		*tokenType = strings.TrimSpace(line)
	}
	if *userID <= 0 {
		fmt.Print("User ID: ")
		line, _ := reader.ReadString('\n')
		id, err := strconv.Atoi(strings.TrimSpace(line))
		if err != nil || id <= 0 {
			fmt.Println("Error: a positive user ID is required")
			os.Exit(1)
		}
		*userID = id
	}

	if *askSecret {
		fmt.Print("JWT secret: ")
		secret, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Println() // Newline after secret input
		if err != nil {
			fmt.Println("Error reading secret")
			os.Exit(1)
		}
		if len(secret) == 0 {
			fmt.Println("Error: secret must not be empty")
			os.Exit(1)
		}
		cfg.JWTSecret = string(secret)
	}

	authService := service.NewAuthService(cfg)

	var token string
	switch service.TokenType(*tokenType) {
	case service.TokenTypeStudent:
		token, err = authService.GenerateStudentToken(*userID)
	case service.TokenTypeAdmin:
		token, err = authService.GenerateAdminToken(*userID, parsePermissions(*perms))
	default:
		fmt.Printf("Error: unknown token type %q\n", *tokenType)
		os.Exit(1)
	}
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Println(token)
}

func parsePermissions(s string) []string {
	if strings.TrimSpace(s) == "" {
		all := make([]string, 0, len(model.AllPermissions))
		for _, p := range model.AllPermissions {
			all = append(all, string(p))
		}
		return all
	}
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
