// Command seeder prepares a development database: it applies migrations,
// seeds an address book for a test shopper and prints an access token the
// API will accept for that shopper.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/joho/godotenv"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/noah-isme/toko-checkout/internal/migrations"
)

type seedAddress struct {
	Label, Receiver, Phone, Province, City, Postal, Line1 string
	Default                                               bool
}

var addresses = []seedAddress{
	{"Rumah", "Budi Santoso", "+628123456789", "DKI Jakarta", "Jakarta Selatan", "12190", "Jl. Sudirman No. 1", true},
	{"Kantor", "Budi Santoso", "+628123456789", "Jawa Barat", "Bandung", "40115", "Jl. Asia Afrika No. 8", false},
}

func main() {
	userID := flag.String("user", "budi", "user id to seed addresses for")
	roles := flag.String("roles", "customer", "comma separated roles for the printed token")
	ttl := flag.Duration("ttl", 12*time.Hour, "token lifetime")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, relying on environment variables")
	}

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		log.Fatal("DATABASE_URL is not set")
	}
	if err := migrations.Run(dbURL); err != nil {
		log.Fatalf("Failed to migrate: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	conn, err := pgx.Connect(ctx, dbURL)
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer conn.Close(context.Background())

	if err := seedAddresses(ctx, conn, *userID); err != nil {
		log.Fatalf("Failed to seed addresses: %v", err)
	}

	token, err := devToken(*userID, strings.Split(*roles, ","), *ttl)
	if err != nil {
		log.Fatalf("Failed to sign token: %v", err)
	}
	fmt.Println(token)
}

func seedAddresses(ctx context.Context, conn *pgx.Conn, userID string) error {
	var count int
	if err := conn.QueryRow(ctx, `SELECT count(*) FROM user_addresses WHERE user_id = $1`, userID).Scan(&count); err != nil {
		return err
	}
	if count > 0 {
		log.Printf("User %s already has %d addresses, skipping", userID, count)
		return nil
	}
	batch := &pgx.Batch{}
	for _, a := range addresses {
		batch.Queue(`INSERT INTO user_addresses
			(id, user_id, label, receiver_name, phone, country, province, city, postal_code, address_line1, is_default)
			VALUES ($1, $2, $3, $4, $5, 'ID', $6, $7, $8, $9, $10)`,
			uuid.New(), userID, a.Label, a.Receiver, a.Phone, a.Province, a.City, a.Postal, a.Line1, a.Default)
	}
	if err := conn.SendBatch(ctx, batch).Close(); err != nil {
		return err
	}
	log.Printf("Seeded %d addresses for %s", len(addresses), userID)
	return nil
}

func devToken(userID string, roles []string, ttl time.Duration) (string, error) {
	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		return "", fmt.Errorf("JWT_SECRET is not set")
	}
	now := time.Now()
	tok, err := jwt.NewBuilder().
		Subject(userID).
		Issuer(envOr("JWT_ISSUER", "backend-toko")).
		Audience([]string{envOr("JWT_AUDIENCE", "toko-frontend")}).
		IssuedAt(now).
		Expiration(now.Add(ttl)).
		Claim("roles", roles).
		Build()
	if err != nil {
		return "", err
	}
	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.HS256, []byte(secret)))
	if err != nil {
		return "", err
	}
	return string(signed), nil
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}
