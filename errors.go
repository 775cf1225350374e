package main

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"time"
)

// Error codes surfaced to clients over the socket and the HTTP API.
const (
	codeRateLimited  = "rate_limited"
	codeForbidden    = "forbidden"
	codeUnauthorized = "unauthorized"
	codeNotFound     = "not_found"
	codeInvalidWord  = "invalid_word"
	codeIOError      = "io_error"
	codeNotReady     = "not_ready"
)

// Join failures keep the original French wire strings; clients match on them.
const (
	joinErrRoomNotFound   = "Salle introuvable"
	joinErrRoomFull       = "Salle pleine"
	joinErrGameInProgress = "Partie en cours"
)

var (
	errRoomNotFound   = errors.New("room not found")
	errRoomFull       = errors.New("room is full")
	errGameInProgress = errors.New("game in progress")
)

func logf(cfg *Config, format string, args ...any) {
	if !cfg.verbose {
		return
	}

	log.Printf("%s | "+format, append([]any{time.Now().Format(logDate)}, args...)...)
}

func newPage(title, body string) string {
	var htmlBody strings.Builder

	htmlBody.WriteString(`<!DOCTYPE html><html lang="en"><head>`)
	htmlBody.WriteString(`<style>`)
	htmlBody.WriteString(`html,body,a{display:block;height:100%;width:100%;text-decoration:none;color:inherit;cursor:auto;}</style>`)
	htmlBody.WriteString(fmt.Sprintf("<title>%s</title></head>", title))
	htmlBody.WriteString(fmt.Sprintf("<body><a href=\"/\">%s</a></body></html>", body))

	return htmlBody.String()
}
