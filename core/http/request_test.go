package http

import (
	"errors"
	"testing"
)

func parseOne(t *testing.T, raw string) *Request {
	t.Helper()
	req, _, err := NewParser(DefaultLimits()).Parse([]byte(raw))
	if err != nil || req == nil {
		t.Fatalf("parse %q: %v", raw, err)
	}
	return req
}

func TestParseFormURLEncoded(t *testing.T) {
	body := "name=wind&tag=a&tag=b"
	req := parseOne(t, "POST /f HTTP/1.1\r\n"+
		"Content-Type: application/x-www-form-urlencoded\r\n"+
		"Content-Length: 21\r\n\r\n"+body)

	form, err := req.ParseForm()
	if err != nil {
		t.Fatalf("ParseForm: %v", err)
	}
	if form.Get("name") != "wind" || form.Get("tag") != "b" || len(form.Values["tag"]) != 2 {
		t.Errorf("unexpected form %v", form.Values)
	}

	again, _ := req.ParseForm()
	if again != form {
		t.Error("expected cached form")
	}
}

func TestParseFormMultipart(t *testing.T) {
	body := "--xyz\r\n" +
		"Content-Disposition: form-data; name=\"title\"\r\n\r\n" +
		"hello\r\n" +
		"--xyz\r\n" +
		"Content-Disposition: form-data; name=\"file\"; filename=\"a.txt\"\r\n" +
		"Content-Type: text/plain\r\n\r\n" +
		"contents\r\n" +
		"--xyz--\r\n"
	req := &Request{
		Method: MethodPost,
		Header: Header{},
		Body:   []byte(body),
	}
	req.Header.Set("Content-Type", "multipart/form-data; boundary=xyz")

	form, err := req.ParseForm()
	if err != nil {
		t.Fatalf("ParseForm: %v", err)
	}
	if form.Get("title") != "hello" {
		t.Errorf("unexpected title %q", form.Get("title"))
	}
	files := form.Files["file"]
	if len(files) != 1 || files[0].Filename != "a.txt" || files[0].Size != 8 {
		t.Errorf("unexpected files %+v", files)
	}
}

func TestParseFormRejectsOtherBodies(t *testing.T) {
	req := parseOne(t, "POST /f HTTP/1.1\r\nContent-Type: application/json\r\nContent-Length: 2\r\n\r\n{}")
	if _, err := req.ParseForm(); !errors.Is(err, ErrNotForm) {
		t.Errorf("expected ErrNotForm, got %v", err)
	}
}

func TestRequestBind(t *testing.T) {
	req := parseOne(t, "POST /b HTTP/1.1\r\nContent-Length: 15\r\n\r\n{\"name\":\"wind\"}")

	var payload struct {
		Name string `json:"name"`
	}
	if err := req.Bind(&payload); err != nil {
		t.Fatalf("Bind: %v", err)
	}
	if payload.Name != "wind" {
		t.Errorf("unexpected name %q", payload.Name)
	}
}
