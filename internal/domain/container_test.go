package domain

import "testing"

func TestSanitizeTicker(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"btc", "btc"},
		{"BTC", "btc"},
		{"^gspc", "_gspc"},
		{"eurusd=x", "eurusd_x"},
		{"brk-b", "brk-b"},
		{"brk.b", "brk.b"},
		{"es=f", "es_f"},
		{"a/b", "a--2fb"},
		{"a b", "a--20b"},
		{"  eth ", "eth"},
	}

	for _, tt := range tests {
		if got := SanitizeTicker(tt.in); got != tt.want {
			t.Errorf("SanitizeTicker(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSanitizeTicker_Deterministic(t *testing.T) {
	for _, in := range []string{"^dji", "gc=f", "btc-usd", "x:y"} {
		first := SanitizeTicker(in)
		for i := 0; i < 5; i++ {
			if got := SanitizeTicker(in); got != first {
				t.Fatalf("SanitizeTicker(%q) not deterministic: %q vs %q", in, got, first)
			}
		}
	}
}

func TestSanitizeTicker_NoCollisionsForExpectedAlphabet(t *testing.T) {
	symbols := []string{
		"btc", "eth", "^gspc", "gspc", "^dji", "dji", "eurusd=x", "eurusdx", "eurusd",
		"gc=f", "gcf", "brk-b", "brk.b", "brkb", "btc-usd", "a/b", "a.b", "a-b",
	}

	seen := make(map[string]string)
	for _, s := range symbols {
		name := SanitizeTicker(s)
		if prev, ok := seen[name]; ok {
			t.Errorf("collision: %q and %q both map to %q", prev, s, name)
		}
		seen[name] = s
	}
}

func TestContainerName(t *testing.T) {
	if got := ContainerName("btc"); got != "ticker-btc" {
		t.Errorf("ContainerName(btc) = %q, want ticker-btc", got)
	}
	if got := ContainerName("^GSPC"); got != "ticker-_gspc" {
		t.Errorf("ContainerName(^GSPC) = %q, want ticker-_gspc", got)
	}
}

func TestNormalizeTicker_Idempotent(t *testing.T) {
	for _, in := range []string{"BTC", "btc", " Eth ", "^GSPC", "BrK.b", ""} {
		once := NormalizeTicker(in)
		if twice := NormalizeTicker(once); twice != once {
			t.Errorf("NormalizeTicker not idempotent for %q: %q then %q", in, once, twice)
		}
	}
	if NormalizeTicker("BTC") != NormalizeTicker("btc") {
		t.Error("BTC and btc should normalize to the same key")
	}
}

func TestParseAssetClass(t *testing.T) {
	if a, ok := ParseAssetClass("crypto"); !ok || a != AssetClassCrypto {
		t.Errorf("ParseAssetClass(crypto) = %v, %v", a, ok)
	}
	if a, ok := ParseAssetClass(" Stock "); !ok || a != AssetClassStock {
		t.Errorf("ParseAssetClass(Stock) = %v, %v", a, ok)
	}
	if _, ok := ParseAssetClass("bond"); ok {
		t.Error("ParseAssetClass(bond) should be invalid")
	}
	if got := AssetClassStock.NameEnvKey(); got != "STOCK_NAME" {
		t.Errorf("NameEnvKey = %q, want STOCK_NAME", got)
	}
}

func TestInviteURL(t *testing.T) {
	want := "https://discord.com/api/oauth2/authorize?client_id=abc&permissions=0&scope=bot"
	if got := InviteURL("abc"); got != want {
		t.Errorf("InviteURL = %q, want %q", got, want)
	}
}

// Inputs containing '_' or "--" are outside the canonical ticker alphabet and may share a name.
func TestSanitizeTicker_CollidesOutsideExpectedAlphabet(t *testing.T) {
	pairs := [][2]string{
		{"^gspc", "_gspc"},
		{"a/b", "a--2fb"},
	}
	for _, p := range pairs {
		if a, b := SanitizeTicker(p[0]), SanitizeTicker(p[1]); a != b {
			t.Errorf("SanitizeTicker(%q) = %q, SanitizeTicker(%q) = %q, want equal", p[0], a, p[1], b)
		}
	}
}
