package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"vclip/server/internal/model"
)

type call struct {
	name string
	args []string
}

// fakeRunner records invocations and lets each test stage side effects.
type fakeRunner struct {
	mu    sync.Mutex
	calls []call
	hook  func(name string, args []string) (CommandResult, error)
}

func (f *fakeRunner) Run(ctx context.Context, name string, args ...string) (CommandResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, call{name: name, args: append([]string(nil), args...)})
	f.mu.Unlock()
	if f.hook != nil {
		return f.hook(name, args)
	}
	return CommandResult{}, nil
}

func argAfter(args []string, flag string) string {
	for i := 0; i < len(args)-1; i++ {
		if args[i] == flag {
			return args[i+1]
		}
	}
	return ""
}

func TestStageErrorUnwrapsBothSides(t *testing.T) {
	cause := errors.New("exit 1")
	err := Fail(model.StepDownloading, ErrDownloadFailed, cause)
	if !errors.Is(err, ErrDownloadFailed) || !errors.Is(err, cause) {
		t.Fatalf("expected both sentinel and cause in chain: %v", err)
	}
	if err.Error() != "download failed: exit 1" {
		t.Fatalf("unexpected message %q", err.Error())
	}
	wrapped := Fail(model.StepAnalyzing, ErrSelectionFailed, err)
	if wrapped != err {
		t.Fatalf("expected existing stage error to pass through")
	}
}

func TestRunWithTimeoutIncludesStderr(t *testing.T) {
	r := &fakeRunner{hook: func(string, []string) (CommandResult, error) {
		return CommandResult{Stderr: "boom", ExitCode: 2}, errors.New("exit status 2")
	}}
	_, err := runWithTimeout(context.Background(), r, time.Second, "tool")
	if err == nil || !strings.Contains(err.Error(), "tool exited 2") || !strings.Contains(err.Error(), "boom") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestYTDLPFetcherReturnsDownloadedVideo(t *testing.T) {
	dir := t.TempDir()
	r := &fakeRunner{hook: func(name string, args []string) (CommandResult, error) {
		out := argAfter(args, "-o")
		target := strings.Replace(out, "%(title)s.%(ext)s", "My Video.mp4", 1)
		return CommandResult{}, os.WriteFile(target, []byte("video"), 0o644)
	}}
	f := NewYTDLPFetcher("yt-dlp", dir, time.Minute).WithRunner(r)

	path, err := f.Fetch(context.Background(), "https://example.com/watch?v=1", "job-1")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if filepath.Base(path) != "My Video.mp4" {
		t.Fatalf("unexpected path %s", path)
	}
	args := r.calls[0].args
	if args[len(args)-1] != "https://example.com/watch?v=1" || argAfter(args, "--merge-output-format") != "mp4" {
		t.Fatalf("unexpected args %v", args)
	}
}

func TestYTDLPFetcherRejectsPartialDownload(t *testing.T) {
	dir := t.TempDir()
	r := &fakeRunner{hook: func(name string, args []string) (CommandResult, error) {
		jobDir := filepath.Dir(argAfter(args, "-o"))
		return CommandResult{}, os.WriteFile(filepath.Join(jobDir, "v.mp4.part"), []byte("x"), 0o644)
	}}
	f := NewYTDLPFetcher("", dir, 0).WithRunner(r)
	if _, err := f.Fetch(context.Background(), "https://example.com/v", "job-2"); err == nil {
		t.Fatalf("expected incomplete download error")
	}
}

func TestYTDLPFetcherNoOutput(t *testing.T) {
	f := NewYTDLPFetcher("", t.TempDir(), 0).WithRunner(&fakeRunner{})
	if _, err := f.Fetch(context.Background(), "https://example.com/v", "job-3"); err == nil {
		t.Fatalf("expected error when nothing was downloaded")
	}
}

func TestWhisperTranscriberReadsSRT(t *testing.T) {
	dir := t.TempDir()
	media := filepath.Join(dir, "clip.mp4")
	if err := os.WriteFile(media, []byte("v"), 0o644); err != nil {
		t.Fatal(err)
	}
	r := &fakeRunner{hook: func(name string, args []string) (CommandResult, error) {
		out := argAfter(args, "--output_dir")
		srt := "1\n00:00:01,000 --> 00:00:02,500\nhello there\n\n2\n00:00:03,000 --> 00:00:04,000\nbye\n"
		return CommandResult{}, os.WriteFile(filepath.Join(out, "clip.srt"), []byte(srt), 0o644)
	}}
	w := NewWhisperTranscriber("whisper", "small", filepath.Join(dir, "transcripts"), time.Minute).WithRunner(r)

	tr, err := w.Transcribe(context.Background(), media, "job-1")
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if len(tr.Captions) != 2 {
		t.Fatalf("expected 2 cues, got %d", len(tr.Captions))
	}
	want := "[00:00:01.00 --> 00:00:02.50] hello there\n[00:00:03.00 --> 00:00:04.00] bye"
	if tr.Text != want {
		t.Fatalf("unexpected text:\n%s", tr.Text)
	}
	if argAfter(r.calls[0].args, "--model") != "small" {
		t.Fatalf("model flag not passed: %v", r.calls[0].args)
	}
}

func TestWhisperTranscriberMissingSRT(t *testing.T) {
	dir := t.TempDir()
	media := filepath.Join(dir, "clip.mp4")
	_ = os.WriteFile(media, []byte("v"), 0o644)
	w := NewWhisperTranscriber("", "", dir, 0).WithRunner(&fakeRunner{})
	if _, err := w.Transcribe(context.Background(), media, "job-1"); err == nil {
		t.Fatalf("expected error without srt output")
	}
}

func TestDecodeHighlights(t *testing.T) {
	cases := []struct {
		name    string
		content string
		want    int
		wantErr bool
	}{
		{name: "array", content: `[{"start_time":"00:05","end_time":"00:20","title":"a","description":"d"}]`, want: 1},
		{name: "fenced", content: "```json\n[{\"start_time\":\"1:00\",\"end_time\":\"1:30\",\"title\":\"b\"}]\n```", want: 1},
		{name: "wrapped", content: `{"highlights":[{"start_time":"0:01","end_time":"0:02"},{"start_time":"0:03","end_time":"0:09"}]}`, want: 2},
		{name: "empty array", content: `[]`, want: 0},
		{name: "garbage", content: `not json`, wantErr: true},
		{name: "blank", content: "  ", wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := DecodeHighlights(tc.content)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if len(got) != tc.want {
				t.Fatalf("got %d highlights, want %d", len(got), tc.want)
			}
		})
	}
}

func TestLLMSelectorSendsTranscript(t *testing.T) {
	var gotAuth string
	var gotReq chatCompletionRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotReq)
		content := "```json\n[{\"start_time\":\"00:10\",\"end_time\":\"00:40\",\"title\":\"Hook\",\"description\":\"why\"}]\n```"
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]string{"role": "assistant", "content": content}}},
		})
	}))
	defer srv.Close()

	s := NewLLMSelector(LLMConfig{APIKey: "k", Endpoint: srv.URL, Model: "m"})
	specs, err := s.SelectHighlights(context.Background(), "[00:00:10.00 --> 00:00:12.00] hello")
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if len(specs) != 1 || specs[0].Title != "Hook" || specs[0].StartTime != "00:10" {
		t.Fatalf("unexpected specs %+v", specs)
	}
	if gotAuth != "Bearer k" || gotReq.Model != "m" {
		t.Fatalf("unexpected request auth=%q model=%q", gotAuth, gotReq.Model)
	}
	if len(gotReq.Messages) != 2 || !strings.Contains(gotReq.Messages[1].Content, "hello") {
		t.Fatalf("transcript missing from prompt")
	}
}

func TestLLMSelectorHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	s := NewLLMSelector(LLMConfig{APIKey: "k", Endpoint: srv.URL})
	_, err := s.SelectHighlights(context.Background(), "text")
	if err == nil || !strings.Contains(err.Error(), "http 429") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestLLMSelectorRequiresAPIKey(t *testing.T) {
	s := NewLLMSelector(LLMConfig{})
	if _, err := s.SelectHighlights(context.Background(), "text"); err == nil {
		t.Fatalf("expected api key error")
	}
}

func TestFFmpegRendererTwoPasses(t *testing.T) {
	dir := t.TempDir()
	caption := filepath.Join(dir, "temp_c1.srt")
	if err := os.WriteFile(caption, []byte("1\n00:00:00,000 --> 00:00:01,000\nhi\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	r := &fakeRunner{hook: func(name string, args []string) (CommandResult, error) {
		return CommandResult{}, os.WriteFile(args[len(args)-1], []byte("x"), 0o644)
	}}
	out := filepath.Join(dir, "clips", "c1_title.mp4")
	err := NewFFmpegRenderer("ffmpeg", time.Minute).WithRunner(r).Render(context.Background(), RenderRequest{
		SourcePath:  "/src.mp4",
		Start:       12.5,
		Duration:    20,
		CaptionPath: caption,
		OutPath:     out,
	})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if len(r.calls) != 2 {
		t.Fatalf("expected 2 ffmpeg calls, got %d", len(r.calls))
	}
	cut := r.calls[0].args
	if argAfter(cut, "-ss") != "12.500" || argAfter(cut, "-t") != "20.000" || argAfter(cut, "-c") != "copy" {
		t.Fatalf("unexpected cut args %v", cut)
	}
	vf := argAfter(r.calls[1].args, "-vf")
	if !strings.Contains(vf, "scale=1080:1920") || !strings.Contains(vf, "subtitles=") {
		t.Fatalf("unexpected filter %q", vf)
	}
	if _, err := os.Stat(cutPath(out)); !os.IsNotExist(err) {
		t.Fatalf("intermediate cut should be removed")
	}
}

func TestFFmpegRendererSkipsEmptyCaptions(t *testing.T) {
	dir := t.TempDir()
	caption := filepath.Join(dir, "empty.srt")
	_ = os.WriteFile(caption, nil, 0o644)
	r := &fakeRunner{}
	err := NewFFmpegRenderer("", 0).WithRunner(r).Render(context.Background(), RenderRequest{
		SourcePath: "/src.mp4", Start: 0, Duration: 5, CaptionPath: caption, OutPath: filepath.Join(dir, "o.mp4"),
	})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if vf := argAfter(r.calls[1].args, "-vf"); strings.Contains(vf, "subtitles") {
		t.Fatalf("empty caption file should not be burned in: %q", vf)
	}
}

func TestFFmpegRendererFailure(t *testing.T) {
	r := &fakeRunner{hook: func(string, []string) (CommandResult, error) {
		return CommandResult{ExitCode: 1, Stderr: "Invalid data"}, fmt.Errorf("exit status 1")
	}}
	err := NewFFmpegRenderer("", 0).WithRunner(r).Render(context.Background(), RenderRequest{
		SourcePath: "/src.mp4", Duration: 5, OutPath: filepath.Join(t.TempDir(), "o.mp4"),
	})
	if err == nil || !strings.Contains(err.Error(), "Invalid data") {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(r.calls) != 1 {
		t.Fatalf("second pass should not run after a failed cut")
	}
}

func TestEscapeFilterPath(t *testing.T) {
	got := escapeFilterPath(`C:\clips\it's.srt`)
	want := `C\:\\clips\\it\'s.srt`
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestMockAdapterFullSet(t *testing.T) {
	m := NewMockAdapter(t.TempDir(), 0)
	set := m.Set()
	ctx := context.Background()
	src, err := set.Fetcher.Fetch(ctx, "https://example.com/v", "job")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	tr, err := set.Transcriber.Transcribe(ctx, src, "job")
	if err != nil || len(tr.Captions) == 0 {
		t.Fatalf("transcribe: %v", err)
	}
	specs, err := set.Selector.SelectHighlights(ctx, tr.Text)
	if err != nil || len(specs) == 0 {
		t.Fatalf("select: %v", err)
	}
	if _, err := set.Fetcher.Fetch(ctx, "https://example.com/simulate-error", "job2"); err == nil {
		t.Fatalf("expected simulated error")
	}
}
