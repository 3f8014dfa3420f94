package utils

import "testing"

func TestNormalizeURL(t *testing.T) {
	cases := map[string]string{
		"https://Example.com/a.png?size=2#top":     "https://example.com/a.png?size=2",
		"<https://user:pw@CDN.example.com/x.gif>":  "https://cdn.example.com/x.gif",
		"media.example.com:8443/cat.jpg":           "https://media.example.com:8443/cat.jpg",
		"HTTP://bücher.example/pic.png":            "http://xn--bcher-kva.example/pic.png",
		"http://127.0.0.1:8080/files/cat.png":      "http://127.0.0.1:8080/files/cat.png",
		"http://[::1]:9000/a.gif":                  "http://[::1]:9000/a.gif",
	}
	for input, want := range cases {
		got, err := NormalizeURL(input)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", input, err)
		}
		if got != want {
			t.Fatalf("%s: got %s, want %s", input, got, want)
		}
	}
	if _, err := NormalizeURL("ftp://example.com/file"); err == nil {
		t.Fatalf("expected ftp to be refused")
	}
	if _, err := NormalizeURL("https:///nohost"); err == nil {
		t.Fatalf("expected missing host to be refused")
	}
}

func TestURLFileName(t *testing.T) {
	if name := URLFileName("https://cdn.example.com/attachments/1/2/cat.png?ex=1", "image"); name != "cat.png" {
		t.Fatalf("unexpected name: %s", name)
	}
	if name := URLFileName("https://cdn.example.com/", "image"); name != "image" {
		t.Fatalf("expected fallback, got %s", name)
	}
}
