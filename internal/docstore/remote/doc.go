// Package remote implements the remote sync collaborator.
//
// A remote accepts one queue.Batch per call and answers with the full
// current document list of every kind the batch touched or requested:
//
//	POST /v1/sync
//	{"tasks": {"insert": [...], "update": [...], "delete": [...]}, "notes": {"get": true}}
//
//	200 OK
//	{"tasks": [...all tasks...], "notes": [...all notes...]}
//
// Client speaks this protocol over HTTP, retrying transient failures
// (network errors, 429, 5xx) with capped exponential backoff. Memory is an
// in-process implementation used for local development and tests;
// Handler exposes a Memory over HTTP together with a websocket push
// channel (/v1/push) that announces which kinds changed. PushListener
// consumes that channel and triggers refetches.
package remote
