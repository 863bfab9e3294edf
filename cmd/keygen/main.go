// Command keygen issues activation codes for a distribution secret: batches
// of expiring codes with an embedded expiry date, or a fresh permanent
// literal for stamping into a new variant.
package main

import (
	"flag"
	"fmt"
	"math/rand"
	"os"
	"time"

	"clausecli/internal/license"
)

func main() {
	secret := flag.String("secret", "", "distribution secret the codes are issued for")
	expiry := flag.String("expiry", "", "expiry date for expiring codes, YYYY-MM-DD")
	count := flag.Int("count", 1, "number of expiring codes to issue")
	permanent := flag.Bool("permanent", false, "generate a permanent literal instead")
	flag.Parse()

	if err := run(*secret, *expiry, *count, *permanent); err != nil {
		fmt.Fprintf(os.Stderr, "keygen: %v\n", err)
		os.Exit(1)
	}
}

func run(secret, expiry string, count int, permanent bool) error {
	if permanent {
		code, err := license.NewPermanentCode()
		if err != nil {
			return err
		}
		fmt.Println(code)
		return nil
	}

	if secret == "" {
		return fmt.Errorf("-secret is required")
	}
	if expiry == "" {
		return fmt.Errorf("-expiry is required for expiring codes")
	}
	expiryDate, err := time.Parse("2006-01-02", expiry)
	if err != nil {
		return fmt.Errorf("parse expiry: %w", err)
	}

	verifier, err := license.NewVerifier([]byte(secret), "")
	if err != nil {
		return err
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	for i := 0; i < count; i++ {
		code, err := verifier.IssueCode(expiryDate, uint32(rng.Intn(1<<24)))
		if err != nil {
			return err
		}
		fmt.Println(code)
	}
	return nil
}
