package sqlmatch

import "testing"

func filteredTokenize(sql string) []Token {
	return FilterSignificant(Tokenize(sql))
}

func TestMatch_TableDriven(t *testing.T) {
	tests := []struct {
		name     string
		template string
		query    string
		want     bool
	}{
		{
			name:     "simple literal placeholder",
			template: "SELECT * FROM ARTICLE WHERE ARTICLE_ID = ?",
			query:    "SELECT * FROM ARTICLE WHERE ARTICLE_ID = 116728608290413363",
			want:     true,
		},
		{
			name:     "two placeholders",
			template: "SELECT COUNT(1) FROM ARTICLE WHERE CHANNEL_ID = ?  AND TENANT_ID = ?",
			query:    "SELECT COUNT(1) FROM ARTICLE WHERE CHANNEL_ID = 312  AND TENANT_ID = 1",
			want:     true,
		},
		{
			name:     "no placeholders, identical",
			template: "SELECT COUNT(1) FROM ARTICLE",
			query:    "SELECT COUNT(1) FROM ARTICLE",
			want:     true,
		},
		{
			name:     "order by limit placeholder",
			template: "SELECT * FROM ARTICLE ORDER BY ARTICLE_ID DESC LIMIT ?",
			query:    "SELECT * FROM ARTICLE ORDER BY ARTICLE_ID DESC LIMIT 100",
			want:     true,
		},
		{
			name:     "in-list wildcard matches same arity",
			template: "SELECT A FROM T WHERE B IN (?, ?, ?)",
			query:    "SELECT A FROM T WHERE B IN (1, 2, 3)",
			want:     true,
		},
		{
			name:     "in-list wrong arity fails",
			template: "SELECT A FROM T WHERE B IN (?, ?, ?)",
			query:    "SELECT A FROM T WHERE B IN (1, 2)",
			want:     false,
		},
		{
			name:     "hint comment filtered out on both sides",
			template: "SELECT /*+ QUERY_TIMEOUT(100000000) */ COUNT(1) FROM ARTICLE WHERE CHANNEL_ID = ?",
			query:    "SELECT /*+ QUERY_TIMEOUT(100000000) */ COUNT(1) FROM ARTICLE WHERE CHANNEL_ID = 2",
			want:     true,
		},
		{
			name:     "different statement shape fails",
			template: "SELECT * FROM ARTICLE WHERE ID = ?",
			query:    "UPDATE ARTICLE SET TITLE = 'X' WHERE ID = 1",
			want:     false,
		},
		{
			name:     "string literal must match exactly when not placeholder",
			template: "SELECT * FROM T WHERE NAME = 'BOB'",
			query:    "SELECT * FROM T WHERE NAME = 'ALICE'",
			want:     false,
		},
		{
			name:     "backtick-quoted identifier matches unquoted equivalent value",
			template: "SELECT * FROM `ARTICLE` WHERE ID = ?",
			query:    "SELECT * FROM ARTICLE WHERE ID = 1",
			want:     true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			template := filteredTokenize(tt.template)
			query := filteredTokenize(tt.query)
			got := Match(template, query)
			if got != tt.want {
				t.Errorf("Match(%q, %q) = %v, want %v", tt.template, tt.query, got, tt.want)
			}
		})
	}
}

func TestMatch_Idempotent(t *testing.T) {
	sql := "SELECT A FROM T WHERE B = ? AND C IN (?, ?)"
	t1 := filteredTokenize(sql)
	t2 := filteredTokenize(sql)
	if !Match(t1, t2) {
		t.Error("Match(tokenize(s), tokenize(s)) = false, want true")
	}
}

func TestFilterSignificant_DropsWhitespaceAndEOF(t *testing.T) {
	tokens := Tokenize("SELECT 1")
	filtered := FilterSignificant(tokens)
	for _, tok := range filtered {
		if tok.Kind == Whitespace || tok.Kind == EOF {
			t.Fatalf("FilterSignificant left a %v token in the output", tok.Kind)
		}
	}
}
