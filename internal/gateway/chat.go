package gateway

import (
	"context"
	"strings"

	"github.com/user/storedash/internal/agent"
	"github.com/user/storedash/internal/httpclient"
	"github.com/user/storedash/internal/logger"
)

// ChatApology is the response shown when the chat service cannot be reached.
const ChatApology = "I'm having trouble connecting to the AI service right now. Please try again later."

// ChatWithAI asks the analyzer a question with recent conversation history.
// It never fails: errors come back as an unsuccessful reply carrying
// ChatApology.
func (g *Gateway) ChatWithAI(ctx context.Context, question string, history []ChatTurn) ChatReply {
	body := chatRequest{
		Question: strings.TrimSpace(question),
		History:  trimHistory(history, g.opts.ChatHistoryLimit),
	}

	var out chatResponse
	if err := g.client.Do(ctx, httpclient.Request{Endpoint: agent.Chat, Body: body}, &out); err != nil {
		logger.FromContext(ctx).Warn("chat query failed", "error", err)
		return ChatReply{Success: false, Response: ChatApology, Error: err.Error()}
	}
	if out.Error != "" {
		resp := out.Response
		if resp == "" {
			resp = ChatApology
		}
		return ChatReply{Success: false, Response: resp, Error: out.Error}
	}
	return ChatReply{
		Success:   true,
		Response:  out.Response,
		Intent:    out.Intent,
		Timestamp: out.Timestamp,
	}
}

// trimHistory keeps the last limit turns. The result is never nil.
func trimHistory(history []ChatTurn, limit int) []ChatTurn {
	if limit <= 0 {
		return []ChatTurn{}
	}
	if len(history) > limit {
		history = history[len(history)-limit:]
	}
	out := make([]ChatTurn, len(history))
	copy(out, history)
	return out
}
