package database

import (
	"database/sql"
	"errors"
	"time"
)

const (
	createMemberQuery = "INSERT INTO channel_members (account_id, channel_id, created_at, updated_at) VALUES ($1, $2, $3, $4) RETURNING id, account_id, channel_id"
)

func (db *PgChatRepository) CreateAccount(params CreateAccountParams) (User, error) {
	ctx, cancel := db.opCtx()
	defer cancel()

	res := db.conn.QueryRowContext(ctx,
		"INSERT INTO accounts (username, email, password_hash, created_at) "+
			"VALUES ($1, $2, $3, $4) RETURNING id, username, email",
		params.Username,
		params.EmailAddress,
		params.PasswordHash,
		time.Now().UTC(),
	)

	var u User
	err := res.Scan(
		&u.Id,
		&u.Username,
		&u.EmailAddress,
	)

	return u, err
}

func (db *PgChatRepository) UpdateAccount(params UpdateAccountParams) (User, error) {
	ctx, cancel := db.opCtx()
	defer cancel()

	res := db.conn.QueryRowContext(ctx,
		"UPDATE accounts SET username = $2, password_hash = $3, auto_reply = $4, persona = $5, updated_at = $6 "+
			"WHERE id = $1 RETURNING id, username, email, auto_reply, persona",
		params.UserId,
		params.Username,
		params.PasswordHash,
		params.AutoReply,
		params.Persona,
		time.Now().UTC(),
	)

	var u User
	err := res.Scan(
		&u.Id,
		&u.Username,
		&u.EmailAddress,
		&u.AutoReply,
		&u.Persona,
	)

	return u, err
}

func (db *PgChatRepository) GetAccountById(accountId int) (User, error) {
	ctx, cancel := db.opCtx()
	defer cancel()

	row := db.conn.QueryRowContext(ctx,
		"SELECT id, username, email, auto_reply, persona FROM accounts "+
			"WHERE id = $1 LIMIT 1",
		accountId,
	)

	var user User
	err := row.Scan(
		&user.Id,
		&user.Username,
		&user.EmailAddress,
		&user.AutoReply,
		&user.Persona,
	)

	return user, err
}

func (db *PgChatRepository) GetAccountByEmail(email string) (User, error) {
	ctx, cancel := db.opCtx()
	defer cancel()

	row := db.conn.QueryRowContext(ctx,
		"SELECT id, username, email, password_hash, auto_reply, persona FROM accounts "+
			"WHERE email = $1 LIMIT 1",
		email,
	)

	var user User
	err := row.Scan(
		&user.Id,
		&user.Username,
		&user.EmailAddress,
		&user.PasswordHash,
		&user.AutoReply,
		&user.Persona,
	)

	return user, err
}

func (db *PgChatRepository) GetAccountByUsername(username string) (User, error) {
	ctx, cancel := db.opCtx()
	defer cancel()

	row := db.conn.QueryRowContext(ctx,
		"SELECT id, username, email, auto_reply, persona FROM accounts "+
			"WHERE username = $1 LIMIT 1",
		username,
	)

	var user User
	err := row.Scan(
		&user.Id,
		&user.Username,
		&user.EmailAddress,
		&user.AutoReply,
		&user.Persona,
	)

	return user, err
}

func (db *PgChatRepository) CreateChannel(params CreateChannelParams) (Channel, error) {
	ctx, cancel := db.opCtx()
	defer cancel()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return Channel{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	res := tx.QueryRowContext(ctx,
		"INSERT INTO channels (name, external_id, description, owner_id, created_at, updated_at) "+
			"VALUES ($1, $2, $3, $4, $5, $6) RETURNING id, name, external_id, description, owner_id, created_at, updated_at",
		params.Name,
		params.ExternalId,
		params.Description,
		params.OwnerId,
		time.Now().UTC(),
		time.Now().UTC(),
	)

	var channel Channel
	err = res.Scan(
		&channel.Id,
		&channel.Name,
		&channel.ExternalId,
		&channel.Description,
		&channel.OwnerId,
		&channel.CreatedAt,
		&channel.UpdatedAt,
	)
	if err != nil {
		return Channel{}, err
	}

	_, err = tx.ExecContext(ctx,
		createMemberQuery,
		params.OwnerId,
		channel.Id,
		time.Now().UTC(),
		time.Now().UTC(),
	)
	if err != nil {
		return Channel{}, err
	}

	if err = tx.Commit(); err != nil {
		return Channel{}, err
	}

	return channel, err
}

func (db *PgChatRepository) DeleteChannel(id int) error {
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

	_, err = tx.ExecContext(ctx, "DELETE FROM message_reads WHERE message_id IN (SELECT id FROM messages WHERE channel_id = $1)", id)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, "DELETE FROM attachments WHERE message_id IN (SELECT id FROM messages WHERE channel_id = $1)", id)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, "DELETE FROM messages WHERE channel_id = $1", id)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, "DELETE FROM channel_unreads WHERE channel_id = $1", id)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, "DELETE FROM channel_members WHERE channel_id = $1", id)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, "DELETE FROM channels WHERE id = $1", id)
	if err != nil {
		return err
	}

	return tx.Commit()
}

func (db *PgChatRepository) GetChannelById(id int) (Channel, error) {
	ctx, cancel := db.opCtx()
	defer cancel()

	row := db.conn.QueryRowContext(ctx,
		"SELECT id, external_id, name, description, owner_id FROM channels "+
			"WHERE id = $1 LIMIT 1",
		id,
	)

	var channel Channel
	err := row.Scan(
		&channel.Id,
		&channel.ExternalId,
		&channel.Name,
		&channel.Description,
		&channel.OwnerId,
	)

	return channel, err
}

func (db *PgChatRepository) GetChannelByExternalId(externalId string) (Channel, error) {
	ctx, cancel := db.opCtx()
	defer cancel()

	row := db.conn.QueryRowContext(ctx,
		"SELECT id, external_id, name, description, owner_id FROM channels "+
			"WHERE external_id = $1 LIMIT 1",
		externalId,
	)

	var channel Channel
	err := row.Scan(
		&channel.Id,
		&channel.ExternalId,
		&channel.Name,
		&channel.Description,
		&channel.OwnerId,
	)

	return channel, err
}

func (db *PgChatRepository) ListChannels(accountId int) ([]ChannelWithUnread, error) {
	ctx, cancel := db.opCtx()
	defer cancel()

	rows, err := db.conn.QueryContext(ctx,
		"SELECT c.id, c.external_id, c.name, c.description, c.owner_id, "+
			"COALESCE(u.unread_count, 0), COALESCE(u.last_read_message_id, 0) "+
			"FROM channel_members m "+
			"JOIN channels c ON c.id = m.channel_id "+
			"LEFT JOIN channel_unreads u ON u.channel_id = c.id AND u.account_id = m.account_id "+
			"WHERE m.account_id = $1 ORDER BY c.name",
		accountId,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var channels = make([]ChannelWithUnread, 0)
	for rows.Next() {
		var c ChannelWithUnread
		if err = rows.Scan(&c.Id, &c.ExternalId, &c.Name, &c.Description, &c.OwnerId, &c.UnreadCount, &c.LastReadMessageId); err != nil {
			break
		}

		channels = append(channels, c)
	}

	return channels, err
}

func (db *PgChatRepository) GetChannelMembers(channelId int) ([]User, error) {
	ctx, cancel := db.opCtx()
	defer cancel()

	rows, err := db.conn.QueryContext(ctx,
		"SELECT a.id, a.username FROM channel_members AS m "+
			"JOIN accounts AS a ON m.account_id = a.id WHERE m.channel_id = $1",
		channelId,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var members = make([]User, 0)
	for rows.Next() {
		var member User
		if err = rows.Scan(&member.Id, &member.Username); err != nil {
			break
		}

		members = append(members, member)
	}

	return members, err
}

func (db *PgChatRepository) CreateChannelMember(accountId, channelId int) (ChannelMember, error) {
	ctx, cancel := db.opCtx()
	defer cancel()

	res := db.conn.QueryRowContext(ctx,
		createMemberQuery,
		accountId,
		channelId,
		time.Now().UTC(),
		time.Now().UTC(),
	)

	var member ChannelMember
	err := res.Scan(
		&member.Id,
		&member.AccountId,
		&member.ChannelId,
	)

	return member, err
}

func (db *PgChatRepository) DeleteChannelMember(accountId, channelId int) error {
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
		"DELETE FROM channel_unreads WHERE account_id = $1 AND channel_id = $2",
		accountId,
		channelId,
	)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx,
		"DELETE FROM channel_members WHERE account_id = $1 AND channel_id = $2",
		accountId,
		channelId,
	)
	if err != nil {
		return err
	}

	return tx.Commit()
}

func (db *PgChatRepository) MemberExists(accountId, channelId int) (bool, error) {
	ctx, cancel := db.opCtx()
	defer cancel()

	res := db.conn.QueryRowContext(ctx,
		"SELECT id FROM channel_members WHERE account_id = $1 AND channel_id = $2 LIMIT 1",
		accountId,
		channelId,
	)

	var id int
	err := res.Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	return true, nil
}
