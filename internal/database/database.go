package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/joho/godotenv/autoload"

	"crash/internal/game"
)

// Service is the durable Store plus connection management. It persists
// users, rounds and bets; every method either fully applies or returns
// an error with no partial effects.
type Service interface {
	game.Store

	Health() map[string]string
	Close() error
}

type service struct {
	pool *pgxpool.Pool
}

var (
	database   = getEnv("BLUEPRINT_DB_DATABASE", "crashdb")
	password   = getEnv("BLUEPRINT_DB_PASSWORD", "postgres")
	username   = getEnv("BLUEPRINT_DB_USERNAME", "postgres")
	port       = getEnv("BLUEPRINT_DB_PORT", "5432")
	host       = getEnv("BLUEPRINT_DB_HOST", "localhost")
	schema     = getEnv("BLUEPRINT_DB_SCHEMA", "public")
	dbInstance *service
)

func New() Service {
	if dbInstance != nil {
		return dbInstance
	}

	connStr := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable&search_path=%s",
		username, password, host, port, database, schema)

	pool, err := pgxpool.New(context.Background(), connStr)
	if err != nil {
		log.Fatalf("[DB] Failed to create connection pool: %v", err)
	}

	dbInstance = &service{pool: pool}
	return dbInstance
}

func (s *service) Health() map[string]string {
	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()

	stats := make(map[string]string)

	if err := s.pool.Ping(ctx); err != nil {
		stats["status"] = "down"
		stats["error"] = fmt.Sprintf("db down: %v", err)
		return stats
	}

	stats["status"] = "up"
	stats["message"] = "It's healthy"

	poolStats := s.pool.Stat()
	stats["total_conns"] = strconv.FormatInt(int64(poolStats.TotalConns()), 10)
	stats["idle_conns"] = strconv.FormatInt(int64(poolStats.IdleConns()), 10)
	stats["acquired_conns"] = strconv.FormatInt(int64(poolStats.AcquiredConns()), 10)

	return stats
}

func (s *service) Close() error {
	log.Printf("[DB] Disconnecting from database: %s", database)
	s.pool.Close()
	return nil
}

// Rounds

func (s *service) CreateRound(ctx context.Context, roundID int64, commitment string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO rounds (round_id, commitment) VALUES ($1, $2)`,
		roundID, commitment)
	if err != nil {
		return fmt.Errorf("create round %d: %w", roundID, err)
	}
	return nil
}

func (s *service) GetRound(ctx context.Context, roundID int64) (*game.RoundRecord, error) {
	var (
		rec       game.RoundRecord
		seed      sql.NullString
		crash     sql.NullFloat64
		crashedAt sql.NullTime
	)
	err := s.pool.QueryRow(ctx,
		`SELECT round_id, commitment, server_seed, crash_multiplier, created_at, crashed_at
		 FROM rounds WHERE round_id = $1`, roundID).
		Scan(&rec.RoundID, &rec.Commitment, &seed, &crash, &rec.CreatedAt, &crashedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("round %d not found", roundID)
	}
	if err != nil {
		return nil, fmt.Errorf("get round %d: %w", roundID, err)
	}
	rec.ServerSeed = seed.String
	rec.CrashMultiplier = crash.Float64
	if crashedAt.Valid {
		rec.CrashedAt = crashedAt.Time
	}
	return &rec, nil
}

func (s *service) MarkRoundCrashed(ctx context.Context, roundID int64, seed string, multiplier float64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE rounds SET server_seed = $2, crash_multiplier = $3, crashed_at = now()
		 WHERE round_id = $1`, roundID, seed, multiplier)
	if err != nil {
		return fmt.Errorf("mark round %d crashed: %w", roundID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("round %d not found", roundID)
	}
	return nil
}

func (s *service) LastRoundID(ctx context.Context) (int64, error) {
	var last int64
	if err := s.pool.QueryRow(ctx, `SELECT COALESCE(MAX(round_id), 0) FROM rounds`).Scan(&last); err != nil {
		return 0, fmt.Errorf("last round id: %w", err)
	}
	return last, nil
}

// Users

func (s *service) GetUser(ctx context.Context, userID string) (*game.User, error) {
	var u game.User
	err := s.pool.QueryRow(ctx,
		`SELECT id, username, balance FROM users WHERE id = $1`, userID).
		Scan(&u.ID, &u.Username, &u.Balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, game.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user %s: %w", userID, err)
	}
	return &u, nil
}

func (s *service) UpsertUser(ctx context.Context, userID string, balance float64) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO users (id, username, balance) VALUES ($1, $1, $2)
		 ON CONFLICT (id) DO UPDATE SET balance = EXCLUDED.balance`,
		userID, balance)
	if err != nil {
		return fmt.Errorf("upsert user %s: %w", userID, err)
	}
	return nil
}

func (s *service) AdjustBalance(ctx context.Context, userID string, delta float64) (float64, error) {
	var balance float64
	err := s.pool.QueryRow(ctx,
		`UPDATE users SET balance = balance + $2
		 WHERE id = $1 AND balance + $2 >= 0
		 RETURNING balance`, userID, delta).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		// Either the user is missing or the delta would overdraw.
		if _, lookupErr := s.GetUser(ctx, userID); lookupErr != nil {
			return 0, lookupErr
		}
		return 0, game.ErrInsufficientBalance
	}
	if err != nil {
		return 0, fmt.Errorf("adjust balance for %s: %w", userID, err)
	}
	return balance, nil
}

// Bets

func (s *service) CreateBet(ctx context.Context, bet *game.Bet) (float64, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("create bet: %w", err)
	}
	defer tx.Rollback(ctx)

	var balance float64
	err = tx.QueryRow(ctx,
		`UPDATE users SET balance = balance - $2
		 WHERE id = $1 AND balance >= $2
		 RETURNING balance`, bet.PlayerID, bet.Amount).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		var current float64
		lookupErr := tx.QueryRow(ctx, `SELECT balance FROM users WHERE id = $1`, bet.PlayerID).Scan(&current)
		if errors.Is(lookupErr, pgx.ErrNoRows) {
			return 0, game.ErrUserNotFound
		}
		return current, game.ErrInsufficientBalance
	}
	if err != nil {
		return 0, fmt.Errorf("debit stake for %s: %w", bet.PlayerID, err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO bets (bet_id, round_id, player_id, amount, auto_cashout, status, placed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		bet.BetID, bet.RoundID, bet.PlayerID, bet.Amount, bet.AutoCashOut, string(bet.Status), bet.PlacedAt)
	if err != nil {
		return 0, fmt.Errorf("insert bet %s: %w", bet.BetID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("create bet %s: %w", bet.BetID, err)
	}
	return balance, nil
}

func (s *service) SettleBet(ctx context.Context, betID, playerID string, multiplier, payout float64) (float64, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("settle bet: %w", err)
	}
	defer tx.Rollback(ctx)

	// The status predicate makes settlement idempotent at the store
	// level too: a bet settles at most once no matter who asks.
	tag, err := tx.Exec(ctx,
		`UPDATE bets SET status = 'SETTLED', cashout_multiplier = $2, payout = $3, settled_at = now()
		 WHERE bet_id = $1 AND status = 'ACTIVE'`, betID, multiplier, payout)
	if err != nil {
		return 0, fmt.Errorf("settle bet %s: %w", betID, err)
	}
	if tag.RowsAffected() == 0 {
		return 0, game.ErrAlreadySettled
	}

	var balance float64
	err = tx.QueryRow(ctx,
		`UPDATE users SET balance = balance + $2 WHERE id = $1 RETURNING balance`,
		playerID, payout).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, game.ErrUserNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("credit payout for %s: %w", playerID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("settle bet %s: %w", betID, err)
	}
	return balance, nil
}

func (s *service) ActiveBets(ctx context.Context, roundID int64) ([]game.Bet, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT bet_id, round_id, player_id, amount, auto_cashout, status, placed_at
		 FROM bets WHERE round_id = $1 AND status = 'ACTIVE'`, roundID)
	if err != nil {
		return nil, fmt.Errorf("active bets for round %d: %w", roundID, err)
	}
	defer rows.Close()

	var bets []game.Bet
	for rows.Next() {
		var b game.Bet
		var status string
		if err := rows.Scan(&b.BetID, &b.RoundID, &b.PlayerID, &b.Amount, &b.AutoCashOut, &status, &b.PlacedAt); err != nil {
			return nil, fmt.Errorf("scan bet: %w", err)
		}
		b.Status = game.BetStatus(status)
		bets = append(bets, b)
	}
	return bets, rows.Err()
}

// Migrations

func RunMigrations(db *sql.DB, migrationsPath string) error {
	m, err := newMigrator(db, migrationsPath)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

func RollbackMigration(db *sql.DB, migrationsPath string) error {
	m, err := newMigrator(db, migrationsPath)
	if err != nil {
		return err
	}
	if err := m.Steps(-1); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

func GetMigrationVersion(db *sql.DB, migrationsPath string) (uint, bool, error) {
	m, err := newMigrator(db, migrationsPath)
	if err != nil {
		return 0, false, err
	}
	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return version, dirty, err
}

func newMigrator(db *sql.DB, migrationsPath string) (*migrate.Migrate, error) {
	driver, err := migratepg.WithInstance(db, &migratepg.Config{})
	if err != nil {
		return nil, fmt.Errorf("migration driver: %w", err)
	}
	return migrate.NewWithDatabaseInstance("file://"+migrationsPath, "postgres", driver)
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
