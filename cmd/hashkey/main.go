package main

import (
	"bufio"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/ncecere/open_image_gateway/internal/auth"
)

// hashkey prints an argon2id hash for auth.caller_key_hash. The secret is
// read from the first argument or, when absent, from stdin.
func main() {
	secret := ""
	if len(os.Args) > 1 {
		secret = os.Args[1]
	} else {
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && line == "" {
			log.Fatalf("read secret: %v", err)
		}
		secret = line
	}
	secret = strings.TrimSpace(secret)
	if secret == "" {
		log.Fatal("secret must not be empty")
	}
	encoded, err := auth.HashKey(secret)
	if err != nil {
		log.Fatalf("hash secret: %v", err)
	}
	fmt.Println(encoded)
}
