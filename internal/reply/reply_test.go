package reply

import (
	"encoding/json"
	"reflect"
	"testing"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		in   Payload
		want Variant
	}{
		{
			name: "plain text",
			in:   Payload{Text: "hi there"},
			want: Variant{Kind: KindPlainText, Text: "hi there"},
		},
		{
			name: "empty text is plain",
			in:   Payload{},
			want: Variant{Kind: KindPlainText},
		},
		{
			name: "multi image strips quotes and spaces",
			in:   Payload{Text: "here", ImageURLs: []string{`"a.png"`, ` "b.png" `}},
			want: Variant{Kind: KindMultiImage, Text: "here", URLs: []string{"a.png", "b.png"}},
		},
		{
			name: "multi image single quotes",
			in:   Payload{ImageURLs: []string{"'https://x/1.png'"}},
			want: Variant{Kind: KindMultiImage, URLs: []string{"https://x/1.png"}},
		},
		{
			name: "single image",
			in:   Payload{Text: "look", ImageURL: ` "https://x/d.png"`},
			want: Variant{Kind: KindSingleImage, Text: "look", URL: "https://x/d.png"},
		},
		{
			name: "multi wins over single",
			in:   Payload{Text: "both", ImageURLs: []string{"a"}, ImageURL: "b"},
			want: Variant{Kind: KindMultiImage, Text: "both", URLs: []string{"a"}},
		},
		{
			name: "empty list falls through to single",
			in:   Payload{ImageURLs: []string{}, ImageURL: "b"},
			want: Variant{Kind: KindSingleImage, URL: "b"},
		},
		{
			name: "blank single url is plain",
			in:   Payload{Text: "t", ImageURL: `  ""  `},
			want: Variant{Kind: KindPlainText, Text: "t"},
		},
		{
			name: "malformed url surfaced as-is",
			in:   Payload{ImageURL: "not a url"},
			want: Variant{Kind: KindSingleImage, URL: "not a url"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.in)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Classify() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestClassify_MultiImagePreservesArity(t *testing.T) {
	in := Payload{ImageURLs: []string{"a", "a", ` "" `, "c"}}
	got := Classify(in)
	if got.Kind != KindMultiImage {
		t.Fatalf("Kind = %v, want %v", got.Kind, KindMultiImage)
	}
	if len(got.URLs) != len(in.ImageURLs) {
		t.Errorf("len(URLs) = %d, want %d", len(got.URLs), len(in.ImageURLs))
	}
}

func TestClassify_DoesNotAliasInput(t *testing.T) {
	in := Payload{ImageURLs: []string{"a"}}
	got := Classify(in)
	got.URLs[0] = "changed"
	if in.ImageURLs[0] != "a" {
		t.Errorf("input mutated: %q", in.ImageURLs[0])
	}
}

func TestKindString(t *testing.T) {
	if KindMultiImage.String() != "multi_image" {
		t.Errorf("String() = %q", KindMultiImage.String())
	}
	if Kind(42).String() != "unknown" {
		t.Errorf("String() = %q, want unknown", Kind(42).String())
	}
}

func TestPayloadUnmarshal(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want Payload
	}{
		{"bare string", `"hi there"`, Payload{Text: "hi there"}},
		{"empty string", `""`, Payload{}},
		{"object text", `{"text":"here","image_urls":["\"a.png\""," \"b.png\" "]}`,
			Payload{Text: "here", ImageURLs: []string{`"a.png"`, ` "b.png" `}}},
		{"object content", `{"content":"c"}`, Payload{Text: "c"}},
		{"object response", `{"response":"r","image_url":"u"}`, Payload{Text: "r", ImageURL: "u"}},
		{"null image fields", `{"text":"t","image_urls":null,"image_url":null}`, Payload{Text: "t"}},
		{"stringified list", `{"text":"t","image_urls":"['a.png', 'b.png']"}`,
			Payload{Text: "t", ImageURLs: []string{"'a.png'", " 'b.png'"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got Payload
			if err := json.Unmarshal([]byte(tt.in), &got); err != nil {
				t.Fatalf("Unmarshal: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestPayloadUnmarshal_BadImageURLs(t *testing.T) {
	var p Payload
	if err := json.Unmarshal([]byte(`{"image_urls": 7}`), &p); err == nil {
		t.Fatal("expected error for numeric image_urls")
	}
}

func TestStringifiedListClassifiesClean(t *testing.T) {
	var p Payload
	if err := json.Unmarshal([]byte(`{"text":"t","image_urls":"['a.png', 'b.png']"}`), &p); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	got := Classify(p)
	want := []string{"a.png", "b.png"}
	if !reflect.DeepEqual(got.URLs, want) {
		t.Errorf("URLs = %q, want %q", got.URLs, want)
	}
}

func TestTurnUnmarshal(t *testing.T) {
	data := `[
		{"type":"human","text":"hello"},
		{"type":"ai","content":"hi"},
		{"type":"ai","text":"pics","image_urls":["a","b"]},
		{"type":"user","text":"again"}
	]`
	var turns []Turn
	if err := json.Unmarshal([]byte(data), &turns); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if len(turns) != 4 {
		t.Fatalf("len = %d, want 4", len(turns))
	}
	wantSpeakers := []Speaker{SpeakerHuman, SpeakerAI, SpeakerAI, SpeakerHuman}
	for i, w := range wantSpeakers {
		if turns[i].Speaker != w {
			t.Errorf("turns[%d].Speaker = %q, want %q", i, turns[i].Speaker, w)
		}
	}
	if turns[1].Payload.Text != "hi" {
		t.Errorf("turns[1].Text = %q, want %q", turns[1].Payload.Text, "hi")
	}
	if len(turns[2].Payload.ImageURLs) != 2 {
		t.Errorf("turns[2].ImageURLs = %v", turns[2].Payload.ImageURLs)
	}
}

func TestSplitURLList(t *testing.T) {
	got := SplitURLList(" [a, , b] ")
	want := []string{"a", " b"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("SplitURLList = %q, want %q", got, want)
	}
	if got := SplitURLList("[]"); got != nil {
		t.Errorf("SplitURLList([]) = %q, want nil", got)
	}
}
