package history

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const schema = `
CREATE TABLE IF NOT EXISTS guild_messages (
	message_id TEXT PRIMARY KEY,
	guild_id TEXT NOT NULL,
	channel_id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	user_name TEXT NOT NULL DEFAULT '',
	user_discrim TEXT NOT NULL DEFAULT '',
	user_avatar TEXT NOT NULL DEFAULT '',
	content TEXT NOT NULL DEFAULT '',
	embeds JSONB,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS guild_messages_guild_idx ON guild_messages (guild_id);
`

type PostgresStore struct {
	pool *pgxpool.Pool
}

var _ Store = (*PostgresStore)(nil)

func NewPostgresStore(ctx context.Context, url string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("connect history store: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping history store: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, schema)
	return err
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) Save(ctx context.Context, record Record) error {
	var embeds any
	if len(record.Embeds) > 0 {
		embeds = string(record.Embeds)
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO guild_messages (message_id, guild_id, channel_id, user_id, user_name, user_discrim, user_avatar, content, embeds, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::jsonb, $10)
		ON CONFLICT (message_id) DO UPDATE SET content = excluded.content, embeds = excluded.embeds
	`,
		record.MessageID,
		record.GuildID,
		record.ChannelID,
		record.UserID,
		record.Username,
		record.Discriminator,
		record.Avatar,
		record.Content,
		embeds,
		record.CreatedAt,
	)
	return err
}

func (s *PostgresStore) Lookup(ctx context.Context, guildID string, messageIDs []string) ([]Record, error) {
	if len(messageIDs) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, `
		SELECT message_id, guild_id, channel_id, user_id, user_name, user_discrim, user_avatar, content, COALESCE(embeds::text, ''), created_at
		FROM guild_messages
		WHERE message_id = ANY($1) AND guild_id = $2
	`, messageIDs, guildID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var record Record
		var embeds string
		if err := rows.Scan(
			&record.MessageID,
			&record.GuildID,
			&record.ChannelID,
			&record.UserID,
			&record.Username,
			&record.Discriminator,
			&record.Avatar,
			&record.Content,
			&embeds,
			&record.CreatedAt,
		); err != nil {
			return nil, err
		}
		if embeds != "" {
			record.Embeds = []byte(embeds)
		}
		out = append(out, record)
	}
	return out, rows.Err()
}
