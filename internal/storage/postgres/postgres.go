package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/princekumarofficial/channel-media-service/internal/config"
	"github.com/princekumarofficial/channel-media-service/internal/storage"
	"github.com/princekumarofficial/channel-media-service/internal/types"
	"github.com/princekumarofficial/channel-media-service/internal/types/users"
)

const uniqueViolation = "23505"

const mediaColumns = `id, message_id, channel_username, file_name, file_type, s3_key, downloaded_at, approved`

type Postgres struct {
	Db *sql.DB
}

var _ storage.Storage = (*Postgres)(nil)

func NewPostgres(ctx context.Context, cfg *config.Config) (*Postgres, error) {
	db, err := sql.Open("postgres", cfg.PGSQL.DSN())
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	pg := &Postgres{Db: db}
	if err := pg.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return pg, nil
}

func (p *Postgres) Close() error {
	return p.Db.Close()
}

func (p *Postgres) Ping(ctx context.Context) error {
	return p.Db.PingContext(ctx)
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

func (p *Postgres) CreateChannel(ctx context.Context, username string) (types.Channel, error) {
	var ch types.Channel
	query := `
	INSERT INTO channels (username, active)
	VALUES ($1, TRUE)
	RETURNING id, username, active, created_at
	`

	err := p.Db.QueryRowContext(ctx, query, username).Scan(&ch.ID, &ch.Username, &ch.Active, &ch.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ch, fmt.Errorf("channel %s: %w", username, storage.ErrAlreadyExists)
		}
		return ch, fmt.Errorf("create channel: %w", err)
	}

	return ch, nil
}

func (p *Postgres) GetChannel(ctx context.Context, id int64) (types.Channel, error) {
	return p.scanChannel(p.Db.QueryRowContext(ctx,
		`SELECT id, username, active, created_at FROM channels WHERE id = $1`, id))
}

func (p *Postgres) GetChannelByUsername(ctx context.Context, username string) (types.Channel, error) {
	return p.scanChannel(p.Db.QueryRowContext(ctx,
		`SELECT id, username, active, created_at FROM channels WHERE LOWER(username) = LOWER($1)`, username))
}

func (p *Postgres) scanChannel(row *sql.Row) (types.Channel, error) {
	var ch types.Channel
	err := row.Scan(&ch.ID, &ch.Username, &ch.Active, &ch.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ch, storage.ErrNotFound
	}
	if err != nil {
		return ch, fmt.Errorf("get channel: %w", err)
	}
	return ch, nil
}

func (p *Postgres) ListChannels(ctx context.Context, activeOnly bool) ([]types.Channel, error) {
	query := `SELECT id, username, active, created_at FROM channels`
	if activeOnly {
		query += ` WHERE active = TRUE`
	}
	query += ` ORDER BY id ASC`

	rows, err := p.Db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list channels: %w", err)
	}
	defer rows.Close()

	channels := []types.Channel{}
	for rows.Next() {
		var ch types.Channel
		if err := rows.Scan(&ch.ID, &ch.Username, &ch.Active, &ch.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan channel: %w", err)
		}
		channels = append(channels, ch)
	}
	return channels, rows.Err()
}

func (p *Postgres) SetChannelActive(ctx context.Context, id int64, active bool) (types.Channel, error) {
	return p.scanChannel(p.Db.QueryRowContext(ctx, `
	UPDATE channels SET active = $2 WHERE id = $1
	RETURNING id, username, active, created_at
	`, id, active))
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMedia(row scanner) (types.MediaRecord, error) {
	var (
		m     types.MediaRecord
		s3Key sql.NullString
	)
	err := row.Scan(&m.ID, &m.MessageID, &m.ChannelUsername, &m.FileName, &m.FileType, &s3Key, &m.DownloadedAt, &m.Approved)
	if err != nil {
		return m, err
	}
	if s3Key.Valid {
		key := s3Key.String
		m.S3Key = &key
	}
	return m, nil
}

func (p *Postgres) MediaExists(ctx context.Context, messageID int64) (bool, error) {
	var exists bool
	err := p.Db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM media_files WHERE message_id = $1)`, messageID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check media: %w", err)
	}
	return exists, nil
}

func (p *Postgres) CreateMedia(ctx context.Context, nm types.NewMedia) (types.MediaRecord, error) {
	query := `
	INSERT INTO media_files (message_id, channel_username, file_name, file_type, s3_key, approved)
	VALUES ($1, $2, $3, $4, NULL, FALSE)
	ON CONFLICT (message_id) DO NOTHING
	RETURNING ` + mediaColumns

	m, err := scanMedia(p.Db.QueryRowContext(ctx, query, nm.MessageID, nm.ChannelUsername, nm.FileName, nm.FileType))
	if errors.Is(err, sql.ErrNoRows) {
		return m, fmt.Errorf("message %d: %w", nm.MessageID, storage.ErrAlreadyExists)
	}
	if err != nil {
		return m, fmt.Errorf("create media: %w", err)
	}
	return m, nil
}

func (p *Postgres) GetMedia(ctx context.Context, id int64) (types.MediaRecord, error) {
	m, err := scanMedia(p.Db.QueryRowContext(ctx, `SELECT `+mediaColumns+` FROM media_files WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return m, storage.ErrNotFound
	}
	if err != nil {
		return m, fmt.Errorf("get media: %w", err)
	}
	return m, nil
}

func mediaWhere(filter types.MediaFilter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	if filter.ApprovedOnly {
		conds = append(conds, "approved = TRUE")
	}
	if filter.PendingOnly {
		conds = append(conds, "approved = FALSE")
	}
	if filter.Kind != "" {
		args = append(args, filter.Kind)
		conds = append(conds, fmt.Sprintf("file_type = $%d", len(args)))
	}
	if filter.Channel != "" {
		args = append(args, filter.Channel)
		conds = append(conds, fmt.Sprintf("LOWER(channel_username) = LOWER($%d)", len(args)))
	}
	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (p *Postgres) ListMedia(ctx context.Context, filter types.MediaFilter, page types.Page) ([]types.MediaRecord, int, error) {
	where, args := mediaWhere(filter)

	var total int
	if err := p.Db.QueryRowContext(ctx, `SELECT COUNT(*) FROM media_files`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count media: %w", err)
	}

	args = append(args, page.Limit, page.Skip)
	query := fmt.Sprintf(`SELECT %s FROM media_files%s ORDER BY downloaded_at DESC, id DESC LIMIT $%d OFFSET $%d`,
		mediaColumns, where, len(args)-1, len(args))

	rows, err := p.Db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list media: %w", err)
	}
	defer rows.Close()

	items := []types.MediaRecord{}
	for rows.Next() {
		m, err := scanMedia(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan media: %w", err)
		}
		items = append(items, m)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate media: %w", err)
	}
	return items, total, nil
}

func (p *Postgres) MarkApproved(ctx context.Context, id int64, s3Key string, at time.Time) (types.MediaRecord, bool, error) {
	tx, err := p.Db.BeginTx(ctx, nil)
	if err != nil {
		return types.MediaRecord{}, false, fmt.Errorf("begin approve: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	m, err := scanMedia(tx.QueryRowContext(ctx, `
	UPDATE media_files SET s3_key = $2, downloaded_at = $3, approved = TRUE
	WHERE id = $1 AND approved = FALSE
	RETURNING `+mediaColumns, id, s3Key, at.UTC()))
	switch {
	case err == nil:
		if err := tx.Commit(); err != nil {
			return m, false, fmt.Errorf("commit approve: %w", err)
		}
		return m, true, nil
	case !errors.Is(err, sql.ErrNoRows):
		return m, false, fmt.Errorf("approve media: %w", err)
	}

	// Either the id is unknown or another approver committed first.
	m, err = scanMedia(tx.QueryRowContext(ctx, `SELECT `+mediaColumns+` FROM media_files WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return m, false, storage.ErrNotFound
	}
	if err != nil {
		return m, false, fmt.Errorf("reload media: %w", err)
	}
	return m, false, nil
}

func (p *Postgres) Counts(ctx context.Context) (types.CatalogCounts, error) {
	var c types.CatalogCounts
	err := p.Db.QueryRowContext(ctx, `
	SELECT
		(SELECT COUNT(*) FROM channels),
		(SELECT COUNT(*) FROM channels WHERE active = TRUE),
		(SELECT COUNT(*) FROM media_files),
		(SELECT COUNT(*) FROM media_files WHERE approved = FALSE),
		(SELECT COUNT(*) FROM media_files WHERE approved = TRUE)
	`).Scan(&c.TotalChannels, &c.ActiveChannels, &c.TotalMedia, &c.PendingMedia, &c.ApprovedMedia)
	if err != nil {
		return c, fmt.Errorf("count catalog: %w", err)
	}
	return c, nil
}

func (p *Postgres) CreateUser(ctx context.Context, username, passwordHash string, isAdmin bool) (users.User, error) {
	u := users.User{Username: username, PasswordHash: passwordHash, IsAdmin: isAdmin}
	query := `
	INSERT INTO users (username, hashed_password, is_admin)
	VALUES ($1, $2, $3)
	RETURNING id, created_at
	`

	err := p.Db.QueryRowContext(ctx, query, username, passwordHash, isAdmin).Scan(&u.ID, &u.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return u, fmt.Errorf("user %s: %w", username, storage.ErrAlreadyExists)
		}
		return u, fmt.Errorf("create user: %w", err)
	}
	return u, nil
}

const userColumns = `id, username, hashed_password, is_admin, created_at`

func scanUser(row scanner) (users.User, error) {
	var u users.User
	err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.IsAdmin, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return u, storage.ErrNotFound
	}
	return u, err
}

func (p *Postgres) GetUserByUsername(ctx context.Context, username string) (users.User, error) {
	return scanUser(p.Db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE username = $1`, username))
}

func (p *Postgres) GetUserByID(ctx context.Context, id int64) (users.User, error) {
	return scanUser(p.Db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

func (p *Postgres) ListUsers(ctx context.Context) ([]users.User, error) {
	rows, err := p.Db.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var list []users.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		list = append(list, u)
	}
	return list, rows.Err()
}

func (p *Postgres) DeleteUser(ctx context.Context, username string) error {
	res, err := p.Db.ExecContext(ctx, `DELETE FROM users WHERE username = $1`, username)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}
