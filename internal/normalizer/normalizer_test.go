package normalizer

import "testing"

func TestNormalize(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want string
	}{
		{"白金ザ・スカイ", "白金ザ・スカイ"},
		{"ぱーくはうす", "パークハウス"},
		{"ＰＡＲＫ　ＨＯＵＳＥ", "PARK HOUSE"},
		{"park  house", "PARK HOUSE"},
		{"  タワー１２３  ", "タワー123"},
		{"グランド　ヒルズ", "グランド ヒルズ"},
	}

	for _, tc := range cases {
		if got := Normalize(tc.in); got != tc.want {
			t.Errorf("Normalize(%q)=%q want %q", tc.in, got, tc.want)
		}
	}
}

func TestCanonicalize(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want string
	}{
		{"白金ザ・スカイ", "白金ザスカイ"},
		{"白金ザスカイ", "白金ザスカイ"},
		{"白金ザ・スカイ 東棟", "白金ザスカイ"},
		{"白金ザ・スカイ EAST", "白金ザスカイ"},
		// The long-vowel mark is part of the stripped symbol set.
		{"パークタワーW棟", "パクタワ"},
		{"シティ／テラス", "シティテラス"},
		{"ＧＲＡＮＤ−ＴＯＷＥＲ", "GRANDTOWER"},
	}

	for _, tc := range cases {
		if got := Canonicalize(tc.in); got != tc.want {
			t.Errorf("Canonicalize(%q)=%q want %q", tc.in, got, tc.want)
		}
	}
}

func TestCanonicalizeBranchSuffixOnlyName(t *testing.T) {
	t.Parallel()

	// A name that IS a suffix must not be stripped to empty.
	if got := Canonicalize("棟"); got != "棟" {
		t.Errorf("Canonicalize(棟)=%q, want 棟", got)
	}
}

func TestIsAdvertisingText(t *testing.T) {
	t.Parallel()

	ads := []string{
		"≪駅近≫白金ザ・スカイ",
		"【値下げ】パークタワー",
		"品川駅徒歩5分",
		"徒歩３分の好立地",
		"5980万円の好物件",
		"2LDK",
		"３ＬＤＫ",
		"築10年のマンション",
		"新築そっくりさん",
		"ab", // shorter than 3 runes
	}
	for _, s := range ads {
		if !IsAdvertisingText(s) {
			t.Errorf("IsAdvertisingText(%q) = false, want true", s)
		}
	}

	names := []string{
		"白金ザ・スカイ",
		"パークコート青山",
		"グランドヒルズ三軒茶屋",
	}
	for _, s := range names {
		if IsAdvertisingText(s) {
			t.Errorf("IsAdvertisingText(%q) = true, want false", s)
		}
	}
}

func TestNormalizeLayout(t *testing.T) {
	t.Parallel()

	cases := []struct{ in, want string }{
		{"1SLDK", "1SLDK"},
		{"1S+LDK", "1SLDK"},
		{"１ＳＬＤＫ", "1SLDK"},
		{"2 LDK", "2LDK"},
	}
	for _, tc := range cases {
		if got := NormalizeLayout(tc.in); got != tc.want {
			t.Errorf("NormalizeLayout(%q)=%q want %q", tc.in, got, tc.want)
		}
	}
}

func TestNormalizeDirection(t *testing.T) {
	t.Parallel()

	cases := []struct{ in, want string }{
		{"南西", "南西"},
		{"SW", "南西"},
		{"西南", "南西"},
		{"南向き", "南"},
		{"S", "南"},
		{"北東", "北東"},
		{"東北", "北東"},
	}
	for _, tc := range cases {
		if got := NormalizeDirection(tc.in); got != tc.want {
			t.Errorf("NormalizeDirection(%q)=%q want %q", tc.in, got, tc.want)
		}
	}
}

func TestNormalizeAddress(t *testing.T) {
	t.Parallel()

	cases := []struct{ in, want string }{
		{"港区白金一丁目", "港区白金1丁目"},
		{"港区白金１丁目", "港区白金1丁目"},
		{"新宿区西新宿二丁目8-1", "新宿区西新宿2丁目8-1"},
		{"足立区千住十二丁目", "足立区千住12丁目"},
	}
	for _, tc := range cases {
		if got := NormalizeAddress(tc.in); got != tc.want {
			t.Errorf("NormalizeAddress(%q)=%q want %q", tc.in, got, tc.want)
		}
	}
}

func TestAddressPrefix(t *testing.T) {
	t.Parallel()

	cases := []struct{ in, want string }{
		{"港区白金一丁目1-1", "港区白金"},
		{"港区白金1丁目", "港区白金"},
		{"新宿区西新宿2-8-1", "新宿区西新宿"},
		{"目黒区中目黒", "目黒区中目黒"},
	}
	for _, tc := range cases {
		if got := AddressPrefix(tc.in); got != tc.want {
			t.Errorf("AddressPrefix(%q)=%q want %q", tc.in, got, tc.want)
		}
	}
}

func TestExpandSearchPatterns(t *testing.T) {
	t.Parallel()

	set := ExpandSearchPatterns("白金ザ・スカイ")
	if len(set.Patterns) == 0 {
		t.Fatal("expected at least one pattern")
	}

	want := map[string]bool{
		"白金ザ・スカイ": false,
		"白金ザスカイ":  false,
	}
	for _, p := range set.Patterns {
		if _, ok := want[p]; ok {
			want[p] = true
		}
	}
	for p, found := range want {
		if !found {
			t.Errorf("pattern %q missing from %v", p, set.Patterns)
		}
	}

	// No duplicates.
	seen := map[string]bool{}
	for _, p := range set.Patterns {
		if seen[p] {
			t.Errorf("duplicate pattern %q", p)
		}
		seen[p] = true
	}
}

func TestLikeArgs(t *testing.T) {
	t.Parallel()

	set := SearchPatternSet{Patterns: []string{"A", "B"}}
	args := set.LikeArgs()
	if args[0] != "%A%" || args[1] != "%B%" {
		t.Errorf("unexpected like args: %v", args)
	}
}
