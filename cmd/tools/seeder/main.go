package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/noah-isme/backend-properti/internal/auth"
	"github.com/noah-isme/backend-properti/internal/db"
)

const demoOrg = "meskel"

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, relying on environment variables")
	}

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		log.Fatal("DATABASE_URL is not set")
	}

	ctx := context.Background()

	if err := db.Migrate(dbURL); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	pool, err := db.NewPool(ctx, dbURL, "properti-seeder")
	if err != nil {
		log.Fatalf("Failed to open DB: %v", err)
	}
	defer pool.Close()

	buildingID := seedBuilding(ctx, pool)
	unitIDs := seedUnits(ctx, pool, buildingID)
	tenantIDs := seedTenants(ctx, pool)
	seedLeases(ctx, pool, unitIDs, tenantIDs)

	printDevToken()

	log.Println("Seeding completed successfully!")
}

func seedBuilding(ctx context.Context, pool *pgxpool.Pool) uuid.UUID {
	fmt.Println("Seeding building...")
	policy := `{"baseRatePerSqm": 350, "decrementPerFloor": 15, "groundFloorMultiplier": 1.3, "minRatePerSqm": 180}`
	var id uuid.UUID
	err := pool.QueryRow(ctx, `
		INSERT INTO buildings (org_id, name, address, rent_policy)
		VALUES ($1, 'Meskel Flower Tower', 'Meskel Flower Road, Addis Ababa', $2)
		RETURNING id;
	`, demoOrg, policy).Scan(&id)
	if err != nil {
		log.Fatalf("Failed to seed building: %v", err)
	}
	return id
}

func seedUnits(ctx context.Context, pool *pgxpool.Pool, buildingID uuid.UUID) []uuid.UUID {
	fmt.Println("Seeding units...")
	units := []struct {
		Label string
		Floor int
		Area  float64
	}{
		{"G-01", 0, 86.4},
		{"G-02", 0, 54.0},
		{"1-01", 1, 92.5},
		{"1-02", 1, 48.2},
		{"2-01", 2, 92.5},
		{"3-01", 3, 120.0},
		{"4-01", 4, 64.8},
	}
	ids := make([]uuid.UUID, 0, len(units))
	for _, u := range units {
		var id uuid.UUID
		err := pool.QueryRow(ctx, `
			INSERT INTO units (org_id, building_id, label, floor, area)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING id;
		`, demoOrg, buildingID, u.Label, u.Floor, u.Area).Scan(&id)
		if err != nil {
			log.Fatalf("Failed to seed unit %s: %v", u.Label, err)
		}
		ids = append(ids, id)
	}
	return ids
}

func seedTenants(ctx context.Context, pool *pgxpool.Pool) []uuid.UUID {
	fmt.Println("Seeding tenants...")
	tenants := []struct {
		Name  string
		Email string
		Phone string
	}{
		{"Abebe Bikila Trading", "abebe@example.et", "+251911000001"},
		{"Tigist Coffee Export", "tigist@example.et", "+251911000002"},
		{"Dawit Electronics", "dawit@example.et", "+251911000003"},
		{"Hanna Pharmacy", "hanna@example.et", "+251911000004"},
		{"Selam Boutique", "selam@example.et", "+251911000005"},
	}
	ids := make([]uuid.UUID, 0, len(tenants))
	for _, t := range tenants {
		var id uuid.UUID
		err := pool.QueryRow(ctx, `
			INSERT INTO tenants (org_id, name, email, phone)
			VALUES ($1, $2, $3, $4)
			RETURNING id;
		`, demoOrg, t.Name, t.Email, t.Phone).Scan(&id)
		if err != nil {
			log.Fatalf("Failed to seed tenant %s: %v", t.Name, err)
		}
		ids = append(ids, id)
	}
	return ids
}

func seedLeases(ctx context.Context, pool *pgxpool.Pool, unitIDs, tenantIDs []uuid.UUID) {
	fmt.Println("Seeding leases...")
	start := time.Now().AddDate(0, -6, 0)
	count := len(tenantIDs)
	if len(unitIDs) < count {
		count = len(unitIDs)
	}
	for i := 0; i < count; i++ {
		_, err := pool.Exec(ctx, `
			INSERT INTO leases (org_id, unit_id, tenant_id, status, start_date, rent_amount)
			VALUES ($1, $2, $3, 'active', $4, $5);
		`, demoOrg, unitIDs[i], tenantIDs[i], start, 15000+float64(i)*2500)
		if err != nil {
			log.Fatalf("Failed to seed lease %d: %v", i, err)
		}
	}
}

func printDevToken() {
	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		return
	}
	tokens, err := auth.NewTokenService(auth.TokenConfig{
		Secret:    secret,
		Issuer:    "properti-api",
		Audience:  "properti",
		AccessTTL: 24 * time.Hour,
	})
	if err != nil {
		log.Printf("Failed to build token service: %v", err)
		return
	}
	token, expires, err := tokens.MintAccessToken(uuid.NewString(), demoOrg, []string{"admin", "manager"})
	if err != nil {
		log.Printf("Failed to mint dev token: %v", err)
		return
	}
	fmt.Printf("Dev access token (expires %s):\n%s\n", expires.Format(time.RFC3339), token)
}
