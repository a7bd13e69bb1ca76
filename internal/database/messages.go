package database

import (
	"encoding/json"
	"time"

	"github.com/lib/pq"
	"github.com/parleychat/parley/internal/types"
)

// incrementUnreadQuery bumps the unread counter of every channel
// member except the author, creating counter rows on first use.
const incrementUnreadQuery = `
	INSERT INTO channel_unreads (channel_id, account_id, unread_count, created_at, updated_at)
	SELECT m.channel_id, m.account_id, 1, $2, $2 FROM channel_members m
	WHERE m.channel_id = $1 AND m.account_id <> $3
	ON CONFLICT (channel_id, account_id)
	DO UPDATE SET unread_count = channel_unreads.unread_count + 1, updated_at = EXCLUDED.updated_at
`

const messageColumns = "id, content, author_id, COALESCE(channel_id, 0), COALESCE(recipient_id, 0), " +
	"COALESCE(thread_id, 0), is_read, reactions, created_at, updated_at"

func (db *PgChatRepository) CreateMessage(params CreateMessageParams) (Message, error) {
	ctx, cancel := db.opCtx()
	defer cancel()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return Message{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	// A reply in a direct thread is inserted already read.
	bornRead := params.ThreadId > 0 && params.RecipientId > 0

	now := time.Now().UTC()
	res := tx.QueryRowContext(ctx,
		"INSERT INTO messages (content, author_id, channel_id, recipient_id, thread_id, is_read, created_at, updated_at) "+
			"VALUES ($1, $2, NULLIF($3, 0), NULLIF($4, 0), NULLIF($5, 0), $6, $7, $7) "+
			"RETURNING id, content, author_id, COALESCE(channel_id, 0), COALESCE(recipient_id, 0), "+
			"COALESCE(thread_id, 0), is_read, created_at, updated_at",
		params.Content,
		params.AuthorId,
		params.ChannelId,
		params.RecipientId,
		params.ThreadId,
		bornRead,
		now,
	)

	var msg Message
	err = res.Scan(
		&msg.Id,
		&msg.Content,
		&msg.AuthorId,
		&msg.ChannelId,
		&msg.RecipientId,
		&msg.ThreadId,
		&msg.IsRead,
		&msg.CreatedAt,
		&msg.UpdatedAt,
	)
	if err != nil {
		return Message{}, err
	}

	for _, att := range params.Attachments {
		row := tx.QueryRowContext(ctx,
			"INSERT INTO attachments (message_id, name, size, mime_type, url, created_at) "+
				"VALUES ($1, $2, $3, $4, $5, $6) RETURNING id, message_id, name, size, mime_type, url",
			msg.Id,
			att.Name,
			att.Size,
			att.MimeType,
			att.Url,
			now,
		)

		var a Attachment
		if err = row.Scan(&a.Id, &a.MessageId, &a.Name, &a.Size, &a.MimeType, &a.Url); err != nil {
			return Message{}, err
		}

		msg.Attachments = append(msg.Attachments, a)
	}

	if msg.ChannelId > 0 {
		_, err = tx.ExecContext(ctx, incrementUnreadQuery, msg.ChannelId, now, msg.AuthorId)
		if err != nil {
			return Message{}, err
		}
	}

	// The author of a thread reply has read their own message.
	if msg.ThreadId > 0 {
		_, err = tx.ExecContext(ctx,
			"INSERT INTO message_reads (message_id, account_id, created_at) VALUES ($1, $2, $3) ON CONFLICT DO NOTHING",
			msg.Id,
			msg.AuthorId,
			now,
		)
		if err != nil {
			return Message{}, err
		}
	}

	if err = tx.Commit(); err != nil {
		return Message{}, err
	}

	return msg, err
}

func (db *PgChatRepository) GetMessage(id int) (Message, error) {
	ctx, cancel := db.opCtx()
	defer cancel()

	row := db.conn.QueryRowContext(ctx,
		"SELECT "+messageColumns+" FROM messages WHERE id = $1 LIMIT 1",
		id,
	)

	msg, err := scanMessage(row)
	if err != nil {
		return Message{}, err
	}

	return msg, nil
}

func (db *PgChatRepository) ListChannelMessages(channelId, since, before, limit int) ([]Message, error) {
	ctx, cancel := db.opCtx()
	defer cancel()

	lower, upper, limit := pageBounds(since, before, limit)
	rows, err := db.conn.QueryContext(ctx,
		"SELECT "+messageColumns+" FROM messages "+
			"WHERE channel_id = $1 AND id BETWEEN $2 AND $3 ORDER BY id DESC LIMIT $4",
		channelId,
		lower,
		upper,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages = make([]Message, 0, limit)
	for rows.Next() {
		var msg Message
		if msg, err = scanMessage(rows); err != nil {
			break
		}

		messages = append(messages, msg)
	}

	return messages, err
}

func (db *PgChatRepository) ListDirectMessages(accountId, peerId, since, before, limit int) ([]Message, error) {
	ctx, cancel := db.opCtx()
	defer cancel()

	lower, upper, limit := pageBounds(since, before, limit)
	rows, err := db.conn.QueryContext(ctx,
		"SELECT "+messageColumns+" FROM messages "+
			"WHERE ((author_id = $1 AND recipient_id = $2) OR (author_id = $2 AND recipient_id = $1)) "+
			"AND id BETWEEN $3 AND $4 ORDER BY id DESC LIMIT $5",
		accountId,
		peerId,
		lower,
		upper,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages = make([]Message, 0, limit)
	for rows.Next() {
		var msg Message
		if msg, err = scanMessage(rows); err != nil {
			break
		}

		messages = append(messages, msg)
	}

	return messages, err
}

func (db *PgChatRepository) UpdateMessageContent(id int, content string) (Message, error) {
	ctx, cancel := db.opCtx()
	defer cancel()

	row := db.conn.QueryRowContext(ctx,
		"UPDATE messages SET content = $2, updated_at = $3 WHERE id = $1 RETURNING "+messageColumns,
		id,
		content,
		time.Now().UTC(),
	)

	msg, err := scanMessage(row)
	if err != nil {
		return Message{}, err
	}

	return msg, nil
}

func (db *PgChatRepository) UpdateMessageReactions(id int, reactions types.ReactionMap) (Message, error) {
	ctx, cancel := db.opCtx()
	defer cancel()

	if reactions == nil {
		reactions = types.ReactionMap{}
	}

	raw, err := json.Marshal(reactions)
	if err != nil {
		return Message{}, err
	}

	row := db.conn.QueryRowContext(ctx,
		"UPDATE messages SET reactions = $2, updated_at = $3 WHERE id = $1 RETURNING "+messageColumns,
		id,
		raw,
		time.Now().UTC(),
	)

	msg, err := scanMessage(row)
	if err != nil {
		return Message{}, err
	}

	return msg, nil
}

func (db *PgChatRepository) DeleteMessage(id int) error {
	ctx, cancel := db.opCtx()
	defer cancel()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	_, err = tx.ExecContext(ctx, "DELETE FROM message_reads WHERE message_id = $1", id)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, "DELETE FROM attachments WHERE message_id = $1", id)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, "DELETE FROM messages WHERE id = $1", id)
	if err != nil {
		return err
	}

	return tx.Commit()
}

func (db *PgChatRepository) ListAttachments(messageIds []int) (map[int][]Attachment, error) {
	attachments := make(map[int][]Attachment)
	if len(messageIds) == 0 {
		return attachments, nil
	}

	ctx, cancel := db.opCtx()
	defer cancel()

	rows, err := db.conn.QueryContext(ctx,
		"SELECT id, message_id, name, size, mime_type, url FROM attachments "+
			"WHERE message_id = ANY($1) ORDER BY id",
		pq.Array(messageIds),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var a Attachment
		if err = rows.Scan(&a.Id, &a.MessageId, &a.Name, &a.Size, &a.MimeType, &a.Url); err != nil {
			break
		}

		attachments[a.MessageId] = append(attachments[a.MessageId], a)
	}

	return attachments, err
}

// MarkChannelRead zeroes the caller's unread counter and advances the
// read cursor to the newest message. It returns the id the cursor
// landed on, or zero when the channel has no messages.
func (db *PgChatRepository) MarkChannelRead(channelId, accountId int) (int, error) {
	ctx, cancel := db.opCtx()
	defer cancel()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	var lastId int
	err = tx.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(id), 0) FROM messages WHERE channel_id = $1",
		channelId,
	).Scan(&lastId)
	if err != nil {
		return 0, err
	}

	if lastId == 0 {
		return 0, tx.Commit()
	}

	_, err = tx.ExecContext(ctx,
		"INSERT INTO channel_unreads (channel_id, account_id, unread_count, last_read_message_id, created_at, updated_at) "+
			"VALUES ($1, $2, 0, $3, $4, $4) "+
			"ON CONFLICT (channel_id, account_id) "+
			"DO UPDATE SET unread_count = 0, last_read_message_id = EXCLUDED.last_read_message_id, updated_at = EXCLUDED.updated_at",
		channelId,
		accountId,
		lastId,
		time.Now().UTC(),
	)
	if err != nil {
		return 0, err
	}

	if err = tx.Commit(); err != nil {
		return 0, err
	}

	return lastId, nil
}

func (db *PgChatRepository) MarkDirectMessageRead(messageId, accountId int) error {
	ctx, cancel := db.opCtx()
	defer cancel()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	_, err = tx.ExecContext(ctx,
		"UPDATE messages SET is_read = TRUE WHERE id = $1 AND recipient_id = $2",
		messageId,
		accountId,
	)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx,
		"INSERT INTO message_reads (message_id, account_id, created_at) VALUES ($1, $2, $3) ON CONFLICT DO NOTHING",
		messageId,
		accountId,
		time.Now().UTC(),
	)
	if err != nil {
		return err
	}

	return tx.Commit()
}

func (db *PgChatRepository) ListDirectMessageUnreads(accountId int) ([]DirectMessageUnread, error) {
	ctx, cancel := db.opCtx()
	defer cancel()

	rows, err := db.conn.QueryContext(ctx,
		"SELECT m.author_id, a.username, COUNT(*), MAX(m.id) "+
			"FROM messages m JOIN accounts a ON a.id = m.author_id "+
			"WHERE m.recipient_id = $1 AND m.is_read = FALSE "+
			"GROUP BY m.author_id, a.username ORDER BY MAX(m.id) DESC",
		accountId,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var unreads = make([]DirectMessageUnread, 0)
	for rows.Next() {
		var u DirectMessageUnread
		if err = rows.Scan(&u.PeerId, &u.PeerUsername, &u.UnreadCount, &u.LastMessageId); err != nil {
			break
		}

		unreads = append(unreads, u)
	}

	return unreads, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (Message, error) {
	var msg Message
	var reactions []byte
	err := row.Scan(
		&msg.Id,
		&msg.Content,
		&msg.AuthorId,
		&msg.ChannelId,
		&msg.RecipientId,
		&msg.ThreadId,
		&msg.IsRead,
		&reactions,
		&msg.CreatedAt,
		&msg.UpdatedAt,
	)
	if err != nil {
		return Message{}, err
	}

	if len(reactions) > 0 {
		parsed := make(types.ReactionMap)
		if err := json.Unmarshal(reactions, &parsed); err != nil {
			return Message{}, err
		}
		if len(parsed) > 0 {
			msg.Reactions = parsed
		}
	}

	return msg, nil
}

// pageBounds turns exclusive after/before cursors into the inclusive
// range used by BETWEEN, with a default page size of 20.
func pageBounds(since, before, limit int) (int, int, int) {
	var upper, lower int = 1<<31 - 1, 0
	if before > 0 {
		upper = before - 1
	}

	if since > 0 {
		lower = since + 1
	}

	if limit <= 0 {
		limit = 20
	}

	return lower, upper, limit
}
