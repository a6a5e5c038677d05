package main

import "time"

type Post struct {
	ID        int64     `json:"id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	Author    string    `json:"author"`
	CreatedAt time.Time `json:"created_at"`
}

type Session struct {
	ID        string    `json:"sessionId"`
	Username  string    `json:"username"`
	IsAdmin   bool      `json:"isAdmin"`
	CreatedAt time.Time `json:"createdAt"`
}

type DayCount struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
	Label string `json:"label"`
}

type Stats struct {
	TotalPosts  int        `json:"totalPosts"`
	RecentPosts int        `json:"recentPosts"`
	PostsPerDay []DayCount `json:"postsPerDay"`
	LastUpdated string     `json:"lastUpdated"`
}

type createPostRequest struct {
	Title   string `json:"title"`
	Content string `json:"content"`
	Author  string `json:"author"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type successResponse struct {
	Success bool `json:"success"`
}

type checkResponse struct {
	Authenticated bool `json:"authenticated"`
}

type errorResponse struct {
	Error string `json:"error"`
}
