package main

import (
	"database/sql"
	"fmt"
	"log"
	"os"

	"github.com/alexedwards/argon2id"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
)

func main() {
	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, relying on environment variables")
	}

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		log.Fatal("DATABASE_URL is not set")
	}

	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		log.Fatalf("Failed to open DB: %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		log.Fatalf("Failed to ping DB: %v", err)
	}

	storeID := seedStore(db)
	log.Printf("Using Store ID: %s", storeID)

	seedStaff(db, storeID)
	seedBillSettings(db, storeID)
	seedCasts(db, storeID)
	seedSampleSessions(db, storeID)

	log.Println("Seeding completed successfully!")
}

func seedStore(db *sql.DB) string {
	var storeID string
	err := db.QueryRow(`
		INSERT INTO stores (slug, name, admin_email, timezone)
		VALUES ('ageha', 'Club Ageha', 'owner@ageha.example', 'Asia/Tokyo')
		ON CONFLICT (slug) DO UPDATE SET name = EXCLUDED.name
		RETURNING id;
	`).Scan(&storeID)
	if err != nil {
		log.Fatalf("Failed to retrieve or create default store: %v", err)
	}
	return storeID
}

func seedStaff(db *sql.DB, storeID string) {
	staff := []struct {
		Name  string
		Email string
		Role  string
	}{
		{"Owner Admin", "admin@ageha.example", "admin"},
		{"Floor Manager", "manager@ageha.example", "manager"},
		{"Hall Staff", "staff@ageha.example", "staff"},
	}

	fmt.Println("Seeding Staff...")
	for _, s := range staff {
		hash, err := argon2id.CreateHash("password123", argon2id.DefaultParams)
		if err != nil {
			log.Fatalf("Failed to hash password: %v", err)
		}
		_, err = db.Exec(`
			INSERT INTO staff (store_id, name, email, password_hash, roles)
			VALUES ($1, $2, $3, $4, ARRAY[$5])
			ON CONFLICT (store_id, email) DO NOTHING;
		`, storeID, s.Name, s.Email, hash, s.Role)
		if err != nil {
			log.Printf("Failed to seed staff %s: %v", s.Email, err)
		}
	}
}

func seedBillSettings(db *sql.DB, storeID string) {
	fmt.Println("Seeding Bill Settings...")
	_, err := db.Exec(`
		INSERT INTO bill_settings (store_id, hourly_charge, set_duration_min, extension_fee_30m, shime_fee, jounai_fee, service_rate_bps, tax_rate_bps)
		VALUES ($1, 5000, 60, 2500, 3000, 2000, 1500, 1000)
		ON CONFLICT (store_id) DO NOTHING;
	`, storeID)
	if err != nil {
		log.Printf("Failed to seed bill settings: %v", err)
	}
}

func seedCasts(db *sql.DB, storeID string) {
	casts := []struct {
		Name     string
		Nickname string
	}{
		{"Aoi Kisaragi", "Aoi"},
		{"Rin Takamine", "Rin"},
		{"Yua Shirosaki", "Yua"},
		{"Mio Kanzaki", "Mio"},
		{"Hina Amamiya", "Hina"},
	}

	fmt.Println("Seeding Casts...")
	for _, c := range casts {
		_, err := db.Exec(`
			INSERT INTO casts (store_id, name, nickname, active)
			VALUES ($1, $2, $3, true)
			ON CONFLICT DO NOTHING;
		`, storeID, c.Name, c.Nickname)
		if err != nil {
			log.Printf("Failed to seed cast %s: %v", c.Name, err)
		}
	}
}

func seedSampleSessions(db *sql.DB, storeID string) {
	fmt.Println("Seeding Sample Sessions...")

	// One open session on table A-1 so the console has live data to show.
	var sessionID string
	err := db.QueryRow(`
		INSERT INTO table_sessions (store_id, table_number, guest_count, status, start_time)
		VALUES ($1, 'A-1', 2, 'open', NOW() - INTERVAL '45 minutes')
		RETURNING id;
	`, storeID).Scan(&sessionID)
	if err != nil {
		log.Printf("Failed to seed open session: %v", err)
		return
	}

	orders := []struct {
		Label     string
		UnitPrice int64
		Quantity  int
	}{
		{"Champagne Moet", 12000, 1},
		{"Fruit Platter", 3000, 1},
		{"Oolong Hai", 800, 4},
	}
	for _, o := range orders {
		_, err := db.Exec(`
			INSERT INTO orders (session_id, label, unit_price, quantity, amount)
			VALUES ($1, $2, $3, $4, $3 * $4);
		`, sessionID, o.Label, o.UnitPrice, o.Quantity)
		if err != nil {
			log.Printf("Failed to seed order %s: %v", o.Label, err)
		}
	}

	var castID string
	if err := db.QueryRow(`SELECT id FROM casts WHERE store_id = $1 AND nickname = 'Aoi'`, storeID).Scan(&castID); err == nil {
		_, err = db.Exec(`
			INSERT INTO session_assignments (session_id, cast_id, status)
			VALUES ($1, $2, 'shime')
			ON CONFLICT DO NOTHING;
		`, sessionID, castID)
		if err != nil {
			log.Printf("Failed to seed assignment: %v", err)
		}
	}

	// A handful of closed sessions from yesterday so sales reports are non-empty.
	for i, total := range []int64{41745, 28600, 15400} {
		_, err := db.Exec(`
			INSERT INTO table_sessions (store_id, table_number, guest_count, status, start_time, end_time, subtotal, total)
			VALUES ($1, $2, 3, 'closed',
				NOW() - INTERVAL '1 day' - INTERVAL '3 hours',
				NOW() - INTERVAL '1 day' - INTERVAL '1 hour',
				$3, $3);
		`, storeID, fmt.Sprintf("B-%d", i+1), total)
		if err != nil {
			log.Printf("Failed to seed closed session: %v", err)
		}
	}
}
