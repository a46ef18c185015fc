// Package repository содержит реализацию доступа к данным в PostgreSQL.
package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/trash2treasure/trash2treasure/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrEmailExists возвращается при попытке регистрации с уже занятым email.
var (
	ErrEmailExists = errors.New("email already exists")
	// ErrUserNotFound возвращается, если пользователь не найден.
	ErrUserNotFound = errors.New("user not found")
	// ErrWasteItemNotFound возвращается, если единица сырья не найдена.
	ErrWasteItemNotFound = errors.New("waste item not found")
	// ErrPickupNotFound возвращается, если заявка на вывоз не найдена.
	ErrPickupNotFound = errors.New("pickup request not found")
)

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{pool: pool}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

// withRetry повторяет операцию при ошибках сериализации, взаимных блокировках
// и обрывах соединения.
func (r *PostgresRepository) withRetry(ctx context.Context, fn func() error) error {
	var err error
	delays := []time.Duration{1 * time.Second, 3 * time.Second, 5 * time.Second}

	for i := 0; i <= len(delays); i++ {
		err = fn()
		if err == nil {
			return nil
		}

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			if pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected {
				if i < len(delays) {
					time.Sleep(delays[i])
					continue
				}
			}
		}

		if isConnectionError(err) {
			if i < len(delays) {
				time.Sleep(delays[i])
				continue
			}
		}

		break
	}
	return err
}

func isConnectionError(err error) bool {
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// CreateUser создаёт нового пользователя и заполняет его идентификатор.
func (r *PostgresRepository) CreateUser(ctx context.Context, u *model.User) error {
	u.ID = uuid.NewString()

	err := r.pool.QueryRow(ctx,
		`INSERT INTO users (id, email, password_hash, name, user_type, address, city, state, zip_code, phone)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 RETURNING created_at`,
		u.ID, u.Email, u.PasswordHash, u.Name, string(u.Role),
		u.Address, u.City, u.State, u.ZipCode, u.Phone,
	).Scan(&u.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return fmt.Errorf("%w: %s", ErrEmailExists, u.Email)
		}
		return fmt.Errorf("create user: %w", err)
	}

	return nil
}

const userColumns = `id, email, password_hash, name, user_type, address, city, state, zip_code, phone, created_at`

func scanUser(row pgx.Row) (*model.User, error) {
	var u model.User
	var role string
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Name, &role,
		&u.Address, &u.City, &u.State, &u.ZipCode, &u.Phone, &u.CreatedAt)
	if err != nil {
		return nil, err
	}
	u.Role = model.Role(role)
	return &u, nil
}

// GetUserByEmail возвращает пользователя по email.
func (r *PostgresRepository) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = $1`, email)

	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("get user by email: %w", err)
	}

	return u, nil
}

// GetUserByID возвращает пользователя по идентификатору.
func (r *PostgresRepository) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id)

	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("get user by id: %w", err)
	}

	return u, nil
}

// UpdateUserProfile перезаписывает поля профиля пользователя.
func (r *PostgresRepository) UpdateUserProfile(ctx context.Context, userID string, p model.ProfileUpdate) error {
	cmdTag, err := r.pool.Exec(ctx,
		`UPDATE users SET name = $2, address = $3, city = $4, state = $5, zip_code = $6, phone = $7
		 WHERE id = $1`,
		userID, p.Name, p.Address, p.City, p.State, p.ZipCode, p.Phone,
	)
	if err != nil {
		return fmt.Errorf("update profile: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

// ListCompanies возвращает всех пользователей с ролью перерабатывающей компании.
func (r *PostgresRepository) ListCompanies(ctx context.Context) ([]model.User, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+userColumns+` FROM users WHERE user_type = $1 ORDER BY created_at`,
		string(model.RoleCompany),
	)
	if err != nil {
		return nil, fmt.Errorf("select companies: %w", err)
	}
	defer rows.Close()

	var res []model.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan company: %w", err)
		}
		res = append(res, *u)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// CreateWasteItemWithReward сохраняет единицу сырья и запись о начислении
// баллов в одной транзакции: либо обе записи, либо ни одной.
func (r *PostgresRepository) CreateWasteItemWithReward(ctx context.Context, item *model.WasteItem, reward *model.Reward) error {
	return r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		item.ID = uuid.NewString()
		err = tx.QueryRow(ctx,
			`INSERT INTO waste_items (id, user_id, waste_type, material, weight_kg, image_url, description, status, points_earned)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			 RETURNING created_at`,
			item.ID, item.UserID, item.WasteType, item.Material, item.WeightKg,
			item.ImageURL, item.Description, string(item.Status), item.PointsEarned,
		).Scan(&item.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert waste item: %w", err)
		}

		reward.ID = uuid.NewString()
		err = tx.QueryRow(ctx,
			`INSERT INTO rewards (id, user_id, points, source, description)
			 VALUES ($1, $2, $3, $4, $5)
			 RETURNING created_at`,
			reward.ID, reward.UserID, reward.Points, string(reward.Source), reward.Description,
		).Scan(&reward.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert reward: %w", err)
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}

		return nil
	})
}

const wasteItemColumns = `id, user_id, waste_type, material, weight_kg, image_url, description, status, points_earned, created_at, scheduled_pickup`

func scanWasteItems(rows pgx.Rows) ([]model.WasteItem, error) {
	var res []model.WasteItem
	for rows.Next() {
		var item model.WasteItem
		var status string
		err := rows.Scan(&item.ID, &item.UserID, &item.WasteType, &item.Material,
			&item.WeightKg, &item.ImageURL, &item.Description, &status,
			&item.PointsEarned, &item.CreatedAt, &item.ScheduledPickup)
		if err != nil {
			return nil, fmt.Errorf("scan waste item: %w", err)
		}
		item.Status = model.WasteStatus(status)
		res = append(res, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// ListRecentWasteItems возвращает последние limit единиц сырья пользователя.
func (r *PostgresRepository) ListRecentWasteItems(ctx context.Context, userID string, limit int) ([]model.WasteItem, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+wasteItemColumns+`
		 FROM waste_items
		 WHERE user_id = $1
		 ORDER BY created_at DESC
		 LIMIT $2`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select waste items: %w", err)
	}
	defer rows.Close()

	return scanWasteItems(rows)
}

// ListWasteItemsByStatus возвращает единицы сырья пользователя в указанном статусе.
func (r *PostgresRepository) ListWasteItemsByStatus(ctx context.Context, userID string, status model.WasteStatus) ([]model.WasteItem, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+wasteItemColumns+`
		 FROM waste_items
		 WHERE user_id = $1 AND status = $2
		 ORDER BY created_at DESC`,
		userID, string(status),
	)
	if err != nil {
		return nil, fmt.Errorf("select waste items by status: %w", err)
	}
	defer rows.Close()

	return scanWasteItems(rows)
}

// CreatePickupWithSchedule создаёт заявку на вывоз и в той же транзакции
// переводит единицу сырья в статус scheduled с отметкой времени вывоза.
func (r *PostgresRepository) CreatePickupWithSchedule(ctx context.Context, p *model.PickupRequest) error {
	return r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		// Блокируем строку сырья, чтобы параллельные заявки на один и тот же
		// предмет сериализовались.
		var itemStatus string
		err = tx.QueryRow(ctx,
			`SELECT status FROM waste_items WHERE id = $1 FOR UPDATE`,
			p.WasteItemID,
		).Scan(&itemStatus)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrWasteItemNotFound
			}
			return fmt.Errorf("lock waste item: %w", err)
		}

		if !model.WasteStatus(itemStatus).CanTransitionTo(model.WasteStatusScheduled) {
			return fmt.Errorf("%w: %s -> %s", model.ErrInvalidTransition, itemStatus, model.WasteStatusScheduled)
		}

		p.ID = uuid.NewString()
		err = tx.QueryRow(ctx,
			`INSERT INTO pickup_requests (id, user_id, company_id, waste_item_id, scheduled_date, status, address, notes)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			 RETURNING created_at`,
			p.ID, p.UserID, p.CompanyID, p.WasteItemID, p.ScheduledDate,
			string(p.Status), p.Address, p.Notes,
		).Scan(&p.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert pickup request: %w", err)
		}

		_, err = tx.Exec(ctx,
			`UPDATE waste_items SET status = $2, scheduled_pickup = $3 WHERE id = $1`,
			p.WasteItemID, string(model.WasteStatusScheduled), p.ScheduledDate,
		)
		if err != nil {
			return fmt.Errorf("update waste item: %w", err)
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}

		return nil
	})
}

const pickupColumns = `id, user_id, company_id, waste_item_id, scheduled_date, status, address, notes, created_at`

func scanPickup(row pgx.Row) (*model.PickupRequest, error) {
	var p model.PickupRequest
	var status string
	err := row.Scan(&p.ID, &p.UserID, &p.CompanyID, &p.WasteItemID,
		&p.ScheduledDate, &status, &p.Address, &p.Notes, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	p.Status = model.PickupStatus(status)
	return &p, nil
}

func (r *PostgresRepository) queryPickups(ctx context.Context, query string, args ...any) ([]model.PickupRequest, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select pickup requests: %w", err)
	}
	defer rows.Close()

	var res []model.PickupRequest
	for rows.Next() {
		p, err := scanPickup(rows)
		if err != nil {
			return nil, fmt.Errorf("scan pickup request: %w", err)
		}
		res = append(res, *p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// GetPickup возвращает заявку на вывоз по идентификатору.
func (r *PostgresRepository) GetPickup(ctx context.Context, id string) (*model.PickupRequest, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+pickupColumns+` FROM pickup_requests WHERE id = $1`, id)

	p, err := scanPickup(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPickupNotFound
		}
		return nil, fmt.Errorf("get pickup request: %w", err)
	}

	return p, nil
}

// ListPickupsByRequester возвращает заявки пользователя, новые первыми.
func (r *PostgresRepository) ListPickupsByRequester(ctx context.Context, userID string) ([]model.PickupRequest, error) {
	return r.queryPickups(ctx,
		`SELECT `+pickupColumns+`
		 FROM pickup_requests
		 WHERE user_id = $1
		 ORDER BY created_at DESC`,
		userID,
	)
}

// ListPickupsByCompany возвращает заявки, адресованные компании, новые первыми.
func (r *PostgresRepository) ListPickupsByCompany(ctx context.Context, companyID string) ([]model.PickupRequest, error) {
	return r.queryPickups(ctx,
		`SELECT `+pickupColumns+`
		 FROM pickup_requests
		 WHERE company_id = $1
		 ORDER BY created_at DESC`,
		companyID,
	)
}

// ListUpcomingPickups возвращает ближайшие подтверждённые заявки пользователя.
func (r *PostgresRepository) ListUpcomingPickups(ctx context.Context, userID string, limit int) ([]model.PickupRequest, error) {
	return r.queryPickups(ctx,
		`SELECT `+pickupColumns+`
		 FROM pickup_requests
		 WHERE user_id = $1 AND status = $2
		 ORDER BY scheduled_date
		 LIMIT $3`,
		userID, string(model.PickupStatusConfirmed), limit,
	)
}

// ListPendingPickupsForCompany возвращает необработанные заявки компании, старые первыми.
func (r *PostgresRepository) ListPendingPickupsForCompany(ctx context.Context, companyID string) ([]model.PickupRequest, error) {
	return r.queryPickups(ctx,
		`SELECT `+pickupColumns+`
		 FROM pickup_requests
		 WHERE company_id = $1 AND status = $2
		 ORDER BY created_at`,
		companyID, string(model.PickupStatusPending),
	)
}

// ListConfirmedPickupsForCompany возвращает подтверждённые заявки компании,
// ближайшие по дате вывоза первыми.
func (r *PostgresRepository) ListConfirmedPickupsForCompany(ctx context.Context, companyID string) ([]model.PickupRequest, error) {
	return r.queryPickups(ctx,
		`SELECT `+pickupColumns+`
		 FROM pickup_requests
		 WHERE company_id = $1 AND status = $2
		 ORDER BY scheduled_date`,
		companyID, string(model.PickupStatusConfirmed),
	)
}

// UpdatePickupStatus переводит заявку в новый статус. Строка заявки
// блокируется на время транзакции, переход проверяется по таблице
// допустимых переходов. Если wasteStatus задан, связанная единица сырья
// в той же транзакции переводится в этот статус.
func (r *PostgresRepository) UpdatePickupStatus(ctx context.Context, pickupID string, next model.PickupStatus, wasteStatus *model.WasteStatus) error {
	return r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		var current string
		var wasteItemID string
		err = tx.QueryRow(ctx,
			`SELECT status, waste_item_id FROM pickup_requests WHERE id = $1 FOR UPDATE`,
			pickupID,
		).Scan(&current, &wasteItemID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrPickupNotFound
			}
			return fmt.Errorf("lock pickup request: %w", err)
		}

		if !model.PickupStatus(current).CanTransitionTo(next) {
			return fmt.Errorf("%w: %s -> %s", model.ErrInvalidTransition, current, next)
		}

		_, err = tx.Exec(ctx,
			`UPDATE pickup_requests SET status = $2 WHERE id = $1`,
			pickupID, string(next),
		)
		if err != nil {
			return fmt.Errorf("update pickup request: %w", err)
		}

		if wasteStatus != nil {
			_, err = tx.Exec(ctx,
				`UPDATE waste_items SET status = $2 WHERE id = $1`,
				wasteItemID, string(*wasteStatus),
			)
			if err != nil {
				return fmt.Errorf("update waste item: %w", err)
			}
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}

		return nil
	})
}

// UserStats возвращает агрегаты по всей истории сырья пользователя.
func (r *PostgresRepository) UserStats(ctx context.Context, userID string) (*model.Stats, error) {
	var stats model.Stats
	err := r.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(weight_kg), 0), COALESCE(SUM(points_earned), 0), COUNT(*)
		 FROM waste_items
		 WHERE user_id = $1`,
		userID,
	).Scan(&stats.TotalWaste, &stats.TotalPoints, &stats.ItemsRecycled)
	if err != nil {
		return nil, fmt.Errorf("select user stats: %w", err)
	}

	return &stats, nil
}

// ListRewardsByUser возвращает журнал начислений пользователя, новые первыми.
func (r *PostgresRepository) ListRewardsByUser(ctx context.Context, userID string) ([]model.Reward, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, user_id, points, source, description, created_at
		 FROM rewards
		 WHERE user_id = $1
		 ORDER BY created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("select rewards: %w", err)
	}
	defer rows.Close()

	var res []model.Reward
	for rows.Next() {
		var rw model.Reward
		var source string
		if err := rows.Scan(&rw.ID, &rw.UserID, &rw.Points, &source, &rw.Description, &rw.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan reward: %w", err)
		}
		rw.Source = model.RewardSource(source)
		res = append(res, rw)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}
