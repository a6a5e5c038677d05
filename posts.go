package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

const defaultAuthor = "Anonymous"

var errEmptyPost = errors.New("title and content are required")

type postStore struct {
	db      *sql.DB
	dialect dialect
	now     func() time.Time
}

func newPostStore(db *sql.DB, d dialect) *postStore {
	return &postStore{db: db, dialect: d, now: time.Now}
}

func (s *postStore) createPost(ctx context.Context, title, content, author string) (*Post, error) {
	if strings.TrimSpace(title) == "" || strings.TrimSpace(content) == "" {
		return nil, errEmptyPost
	}
	if strings.TrimSpace(author) == "" {
		author = defaultAuthor
	}

	createdAt := s.now().UTC().Truncate(time.Microsecond)
	query := s.dialect.rebind(`
		INSERT INTO posts (title, content, author, created_at)
		VALUES (?, ?, ?, ?)`)

	var id int64
	if s.dialect.returnsInsertID() {
		err := s.db.QueryRowContext(ctx, query+" RETURNING id", title, content, author, createdAt).Scan(&id)
		if err != nil {
			return nil, fmt.Errorf("inserting post: %w", err)
		}
	} else {
		result, err := s.db.ExecContext(ctx, query, title, content, author, createdAt)
		if err != nil {
			return nil, fmt.Errorf("inserting post: %w", err)
		}
		id, err = result.LastInsertId()
		if err != nil {
			return nil, fmt.Errorf("reading inserted post id: %w", err)
		}
	}

	post, err := s.getPostByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if post == nil {
		return nil, fmt.Errorf("inserted post %d not found", id)
	}
	return post, nil
}

func (s *postStore) getPostByID(ctx context.Context, id int64) (*Post, error) {
	row := s.db.QueryRowContext(ctx, s.dialect.rebind(`
		SELECT id, title, content, author, created_at
		FROM posts
		WHERE id = ?`), id)

	var post Post
	err := row.Scan(&post.ID, &post.Title, &post.Content, &post.Author, &post.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting post %d: %w", id, err)
	}

	return &post, nil
}

func (s *postStore) getPosts(ctx context.Context) ([]Post, error) {
	query := "SELECT id, title, content, author, created_at FROM posts ORDER BY created_at DESC, id DESC"
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("listing posts: %w", err)
	}
	defer rows.Close()

	posts := make([]Post, 0)
	for rows.Next() {
		var post Post
		err := rows.Scan(&post.ID, &post.Title, &post.Content, &post.Author, &post.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scanning post: %w", err)
		}
		posts = append(posts, post)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("listing posts: %w", err)
	}

	return posts, nil
}

func (s *postStore) countPosts(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM posts").Scan(&count); err != nil {
		return 0, fmt.Errorf("counting posts: %w", err)
	}
	return count, nil
}

func (s *postStore) deleteAllPosts(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM posts"); err != nil {
		return fmt.Errorf("deleting posts: %w", err)
	}
	return nil
}

// statsSnapshot returns the total post count and the creation times of posts
// created after since, read in one transaction.
func (s *postStore) statsSnapshot(ctx context.Context, since time.Time) (int, []time.Time, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, nil, fmt.Errorf("beginning stats tx: %w", err)
	}
	defer tx.Rollback()

	var total int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM posts").Scan(&total); err != nil {
		return 0, nil, fmt.Errorf("counting posts: %w", err)
	}

	rows, err := tx.QueryContext(ctx, s.dialect.rebind(
		"SELECT created_at FROM posts WHERE created_at > ? ORDER BY created_at"), since.UTC())
	if err != nil {
		return 0, nil, fmt.Errorf("listing post times: %w", err)
	}
	defer rows.Close()

	var times []time.Time
	for rows.Next() {
		var t time.Time
		if err := rows.Scan(&t); err != nil {
			return 0, nil, fmt.Errorf("scanning post time: %w", err)
		}
		times = append(times, t)
	}
	if err := rows.Err(); err != nil {
		return 0, nil, fmt.Errorf("listing post times: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, nil, fmt.Errorf("committing stats tx: %w", err)
	}
	return total, times, nil
}
