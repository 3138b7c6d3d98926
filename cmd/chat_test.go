package cmd

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samsaffron/noma/internal/engine"
	"github.com/samsaffron/noma/internal/llm"
	"github.com/samsaffron/noma/internal/session"
	"github.com/samsaffron/noma/internal/testutil"
	"github.com/samsaffron/noma/internal/tools"
)

func testAgent(t *testing.T, gen *testutil.Generator) *agent {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)
	scheduler := engine.NewScheduler(tools.NewRegistry(), engine.SchedulerOptions{Logger: logger})
	chat := engine.NewChat(gen, "m", llm.GenerateConfig{}, []llm.Content{
		llm.UserText("earlier"),
		llm.ModelContent(llm.NewTextPart("reply")),
	})
	store := &session.NoopStore{}
	return &agent{
		logger:    logger,
		scheduler: scheduler,
		store:     store,
		session:   &session.Session{ID: "s1"},
		client: engine.NewClient(chat, engine.ClientOptions{
			Scheduler: scheduler,
			Logger:    logger,
			Store:     store,
		}),
	}
}

func TestChatCommand(t *testing.T) {
	a := testAgent(t, testutil.NewGenerator())
	var out bytes.Buffer

	done, err := chatCommand(a, "/clear", &out)
	require.NoError(t, err)
	assert.False(t, done)
	assert.Empty(t, a.client.Chat().History(false))

	done, err = chatCommand(a, "/mode yolo", &out)
	require.NoError(t, err)
	assert.False(t, done)
	assert.Contains(t, out.String(), "approval mode: yolo")

	_, err = chatCommand(a, "/mode never", &out)
	assert.ErrorContains(t, err, "usage: /mode")

	_, err = chatCommand(a, "/bogus", &out)
	assert.ErrorContains(t, err, "unknown command /bogus")

	done, err = chatCommand(a, "/exit", &out)
	require.NoError(t, err)
	assert.True(t, done)
}

func TestChatLoop(t *testing.T) {
	gen := testutil.NewGenerator().AddTextResponse("Hi there")
	a := testAgent(t, gen)
	var out bytes.Buffer
	con := newConsole(&out, a.scheduler, a.logger, false, false, false)

	in := strings.NewReader("\n/nope\nhello\n/quit\nignored\n")
	require.NoError(t, chatLoop(context.Background(), a, con, in, &out))

	assert.Contains(t, out.String(), "unknown command /nope")
	assert.Contains(t, out.String(), "Hi there")
	assert.Equal(t, 1, gen.RequestCount())
	assert.Equal(t, "s1", a.session.ID)
	assert.Equal(t, "hello", a.session.Summary)
}
