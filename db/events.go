package db

import (
	"database/sql"
	"time"

	"github.com/convoke-dev/convoke/domain"
	"github.com/google/uuid"
)

// Event queries
const (
	sqlUpsertEvent = `INSERT INTO events(id, external_uri, title, summary, location, start_time, end_time, event_status, attributed_to, header_url, user_id, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(external_uri) DO UPDATE SET title = excluded.title, summary = excluded.summary, location = excluded.location, start_time = excluded.start_time, end_time = excluded.end_time, event_status = excluded.event_status, attributed_to = excluded.attributed_to, header_url = excluded.header_url, updated_at = excluded.updated_at`

	sqlSelectEventFields         = `SELECT id, external_uri, title, summary, location, start_time, end_time, event_status, attributed_to, header_url, user_id, created_at, updated_at FROM events`
	sqlSelectEventById           = sqlSelectEventFields + ` WHERE id = ?`
	sqlSelectEventByExternalURI  = sqlSelectEventFields + ` WHERE external_uri = ?`
	sqlSelectUpcomingEvents      = sqlSelectEventFields + ` WHERE start_time >= ? ORDER BY start_time ASC LIMIT ?`
	sqlDeleteEventsByExternalURI = `DELETE FROM events WHERE external_uri = ?`
	sqlDeleteEventById           = `DELETE FROM events WHERE id = ?`

	sqlUpdateEvent = `UPDATE events SET title = ?, summary = ?, location = ?, start_time = ?, end_time = ?, event_status = ?, updated_at = ? WHERE id = ?`
)

// UpsertEvent inserts or updates an event keyed by its external URI.
// Only remote mirrors carry an external URI, so local events always insert.
func (db *DB) UpsertEvent(event *domain.Event) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		var userId any
		if event.UserId != nil {
			userId = event.UserId.String()
		}
		var endTime any
		if event.EndTime != nil {
			endTime = *event.EndTime
		}
		_, err := tx.Exec(sqlUpsertEvent,
			event.Id.String(),
			nullIfEmpty(event.ExternalURI),
			event.Title,
			event.Summary,
			event.Location,
			event.StartTime,
			endTime,
			event.EventStatus,
			event.AttributedTo,
			event.HeaderURL,
			userId,
			event.CreatedAt,
			event.UpdatedAt,
		)
		return err
	})
}

// UpdateEvent rewrites the mutable fields of an event by id
func (db *DB) UpdateEvent(event *domain.Event) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		var endTime any
		if event.EndTime != nil {
			endTime = *event.EndTime
		}
		_, err := tx.Exec(sqlUpdateEvent,
			event.Title,
			event.Summary,
			event.Location,
			event.StartTime,
			endTime,
			event.EventStatus,
			event.UpdatedAt,
			event.Id.String(),
		)
		return err
	})
}

func (db *DB) DeleteEventById(id uuid.UUID) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlDeleteEventById, id.String())
		return err
	})
}

func (db *DB) ReadEventById(id uuid.UUID) (error, *domain.Event) {
	return db.scanEvent(db.db.QueryRow(sqlSelectEventById, id.String()))
}

func (db *DB) ReadEventByExternalURI(uri string) (error, *domain.Event) {
	return db.scanEvent(db.db.QueryRow(sqlSelectEventByExternalURI, uri))
}

func (db *DB) scanEvent(row *sql.Row) (error, *domain.Event) {
	var event domain.Event
	var idStr string
	var externalURI, eventStatus, attributedTo, headerURL, userIdStr sql.NullString
	var endTime sql.NullTime
	err := row.Scan(
		&idStr,
		&externalURI,
		&event.Title,
		&event.Summary,
		&event.Location,
		&event.StartTime,
		&endTime,
		&eventStatus,
		&attributedTo,
		&headerURL,
		&userIdStr,
		&event.CreatedAt,
		&event.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return err, nil
	}
	if err != nil {
		return err, nil
	}
	event.Id, _ = uuid.Parse(idStr)
	event.ExternalURI = externalURI.String
	event.EventStatus = eventStatus.String
	event.AttributedTo = attributedTo.String
	event.HeaderURL = headerURL.String
	if endTime.Valid {
		t := endTime.Time
		event.EndTime = &t
	}
	if userIdStr.Valid {
		if userId, parseErr := uuid.Parse(userIdStr.String); parseErr == nil {
			event.UserId = &userId
		}
	}
	return nil, &event
}

// DeleteEventsByExternalURI removes every local mirror of a remote event and
// returns how many rows were deleted.
func (db *DB) DeleteEventsByExternalURI(uri string) (int64, error) {
	res, err := db.db.Exec(sqlDeleteEventsByExternalURI, uri)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (db *DB) ReadUpcomingEvents(from time.Time, limit int) (error, *[]domain.Event) {
	rows, err := db.db.Query(sqlSelectUpcomingEvents, from, limit)
	if err != nil {
		return err, nil
	}
	defer rows.Close()

	var events []domain.Event
	for rows.Next() {
		var event domain.Event
		var idStr string
		var externalURI, eventStatus, attributedTo, headerURL, userIdStr sql.NullString
		var endTime sql.NullTime
		if err := rows.Scan(&idStr, &externalURI, &event.Title, &event.Summary, &event.Location, &event.StartTime, &endTime, &eventStatus, &attributedTo, &headerURL, &userIdStr, &event.CreatedAt, &event.UpdatedAt); err != nil {
			return err, &events
		}
		event.Id, _ = uuid.Parse(idStr)
		event.ExternalURI = externalURI.String
		event.EventStatus = eventStatus.String
		event.AttributedTo = attributedTo.String
		event.HeaderURL = headerURL.String
		if endTime.Valid {
			t := endTime.Time
			event.EndTime = &t
		}
		if userIdStr.Valid {
			if userId, parseErr := uuid.Parse(userIdStr.String); parseErr == nil {
				event.UserId = &userId
			}
		}
		events = append(events, event)
	}
	if err = rows.Err(); err != nil {
		return err, &events
	}
	return nil, &events
}

// Comment queries
const (
	sqlInsertComment              = `INSERT INTO comments(id, external_uri, content, event_id, author_id, created_at) VALUES (?, ?, ?, ?, ?, ?)`
	sqlSelectCommentByExternalURI = `SELECT id, external_uri, content, event_id, author_id, created_at FROM comments WHERE external_uri = ?`
	sqlSelectCommentsByEventId    = `SELECT id, external_uri, content, event_id, author_id, created_at FROM comments WHERE event_id = ? ORDER BY created_at ASC`
	sqlDeleteComment              = `DELETE FROM comments WHERE id = ?`
)

func (db *DB) CreateComment(comment *domain.Comment) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertComment,
			comment.Id.String(),
			nullIfEmpty(comment.ExternalURI),
			comment.Content,
			comment.EventId.String(),
			comment.AuthorId.String(),
			comment.CreatedAt,
		)
		return err
	})
}

func (db *DB) ReadCommentByExternalURI(uri string) (error, *domain.Comment) {
	row := db.db.QueryRow(sqlSelectCommentByExternalURI, uri)
	var comment domain.Comment
	var idStr, eventIdStr, authorIdStr string
	var externalURI sql.NullString
	err := row.Scan(&idStr, &externalURI, &comment.Content, &eventIdStr, &authorIdStr, &comment.CreatedAt)
	if err == sql.ErrNoRows {
		return err, nil
	}
	if err != nil {
		return err, nil
	}
	comment.Id, _ = uuid.Parse(idStr)
	comment.EventId, _ = uuid.Parse(eventIdStr)
	comment.AuthorId, _ = uuid.Parse(authorIdStr)
	comment.ExternalURI = externalURI.String
	return nil, &comment
}

func (db *DB) ReadCommentsByEventId(eventId uuid.UUID) (error, *[]domain.Comment) {
	rows, err := db.db.Query(sqlSelectCommentsByEventId, eventId.String())
	if err != nil {
		return err, nil
	}
	defer rows.Close()

	var comments []domain.Comment
	for rows.Next() {
		var comment domain.Comment
		var idStr, eventIdStr, authorIdStr string
		var externalURI sql.NullString
		if err := rows.Scan(&idStr, &externalURI, &comment.Content, &eventIdStr, &authorIdStr, &comment.CreatedAt); err != nil {
			return err, &comments
		}
		comment.Id, _ = uuid.Parse(idStr)
		comment.EventId, _ = uuid.Parse(eventIdStr)
		comment.AuthorId, _ = uuid.Parse(authorIdStr)
		comment.ExternalURI = externalURI.String
		comments = append(comments, comment)
	}
	if err = rows.Err(); err != nil {
		return err, &comments
	}
	return nil, &comments
}

func (db *DB) DeleteComment(id uuid.UUID) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlDeleteComment, id.String())
		return err
	})
}

// Like queries
const (
	sqlUpsertLike = `INSERT INTO event_likes(id, event_id, account_id, uri, created_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(event_id, account_id) DO UPDATE SET uri = excluded.uri`

	sqlSelectLike = `SELECT id, event_id, account_id, uri, created_at FROM event_likes WHERE event_id = ? AND account_id = ?`
	sqlCountLikes = `SELECT COUNT(*) FROM event_likes WHERE event_id = ?`
	sqlDeleteLike = `DELETE FROM event_likes WHERE event_id = ? AND account_id = ?`
)

func (db *DB) UpsertLike(like *domain.EventLike) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlUpsertLike,
			like.Id.String(),
			like.EventId.String(),
			like.AccountId.String(),
			like.URI,
			like.CreatedAt,
		)
		return err
	})
}

func (db *DB) ReadLike(eventId, accountId uuid.UUID) (error, *domain.EventLike) {
	row := db.db.QueryRow(sqlSelectLike, eventId.String(), accountId.String())
	var like domain.EventLike
	var idStr, eventIdStr, accountIdStr string
	err := row.Scan(&idStr, &eventIdStr, &accountIdStr, &like.URI, &like.CreatedAt)
	if err == sql.ErrNoRows {
		return err, nil
	}
	if err != nil {
		return err, nil
	}
	like.Id, _ = uuid.Parse(idStr)
	like.EventId, _ = uuid.Parse(eventIdStr)
	like.AccountId, _ = uuid.Parse(accountIdStr)
	return nil, &like
}

func (db *DB) CountLikes(eventId uuid.UUID) (error, int64) {
	var count int64
	err := db.db.QueryRow(sqlCountLikes, eventId.String()).Scan(&count)
	return err, count
}

func (db *DB) DeleteLike(eventId, accountId uuid.UUID) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlDeleteLike, eventId.String(), accountId.String())
		return err
	})
}

// Attendance queries
const (
	sqlUpsertAttendance = `INSERT INTO event_attendance(id, event_id, account_id, status, uri, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(event_id, account_id) DO UPDATE SET status = excluded.status, uri = excluded.uri, updated_at = excluded.updated_at`

	sqlSelectAttendance = `SELECT id, event_id, account_id, status, uri, created_at, updated_at FROM event_attendance WHERE event_id = ? AND account_id = ?`
	sqlCountAttendance  = `SELECT COUNT(*) FROM event_attendance WHERE event_id = ? AND status = ?`
	sqlDeleteAttendance = `DELETE FROM event_attendance WHERE event_id = ? AND account_id = ?`
)

func (db *DB) UpsertAttendance(attendance *domain.EventAttendance) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlUpsertAttendance,
			attendance.Id.String(),
			attendance.EventId.String(),
			attendance.AccountId.String(),
			string(attendance.Status),
			attendance.URI,
			attendance.CreatedAt,
			attendance.UpdatedAt,
		)
		return err
	})
}

func (db *DB) ReadAttendance(eventId, accountId uuid.UUID) (error, *domain.EventAttendance) {
	row := db.db.QueryRow(sqlSelectAttendance, eventId.String(), accountId.String())
	var attendance domain.EventAttendance
	var idStr, eventIdStr, accountIdStr string
	err := row.Scan(&idStr, &eventIdStr, &accountIdStr, &attendance.Status, &attendance.URI, &attendance.CreatedAt, &attendance.UpdatedAt)
	if err == sql.ErrNoRows {
		return err, nil
	}
	if err != nil {
		return err, nil
	}
	attendance.Id, _ = uuid.Parse(idStr)
	attendance.EventId, _ = uuid.Parse(eventIdStr)
	attendance.AccountId, _ = uuid.Parse(accountIdStr)
	return nil, &attendance
}

func (db *DB) CountAttendance(eventId uuid.UUID, status domain.AttendanceStatus) (error, int64) {
	var count int64
	err := db.db.QueryRow(sqlCountAttendance, eventId.String(), string(status)).Scan(&count)
	return err, count
}

func (db *DB) DeleteAttendance(eventId, accountId uuid.UUID) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlDeleteAttendance, eventId.String(), accountId.String())
		return err
	})
}
