package tools

import "testing"

func TestGlobMatch(t *testing.T) {
	t.Parallel()

	cases := []struct {
		pattern string
		path    string
		want    bool
	}{
		{pattern: "*.ts", path: "src/index.ts", want: true},
		{pattern: "*.ts", path: "index.ts", want: true},
		{pattern: "*.ts", path: "index.tsx", want: false},
		{pattern: "src/**/*.ts", path: "src/a/b.ts", want: true},
		{pattern: "src/**/*.ts", path: "src/b.ts", want: true},
		{pattern: "src/**/*.ts", path: "lib/a.ts", want: false},
		{pattern: "*.ts,*.tsx", path: "ui/App.tsx", want: true},
		{pattern: "*.ts,*.tsx", path: "ui/App.ts", want: true},
		{pattern: "*.ts, *.tsx", path: "ui/App.jsx", want: false},
		{pattern: "src/*.go", path: "src/a/b.go", want: false},
		{pattern: "src/*.go", path: "src/main.go", want: true},
		{pattern: "**/test_*.py", path: "pkg/tests/test_api.py", want: true},
		{pattern: "file?.md", path: "docs/file1.md", want: true},
		{pattern: "a+b.txt", path: "a+b.txt", want: true},
		{pattern: "a+b.txt", path: "aab.txt", want: false},
		{pattern: "", path: "anything/at/all", want: true},
	}
	for _, tc := range cases {
		if got := CompileGlob(tc.pattern).Match(tc.path); got != tc.want {
			t.Fatalf("glob %q match %q=%v, want=%v", tc.pattern, tc.path, got, tc.want)
		}
	}
}

func TestIsDeniedPath(t *testing.T) {
	t.Parallel()

	denied := []string{
		"node_modules/react/index.js",
		"web/dist/app.js",
		"yarn.lock",
		"assets/logo.PNG",
		"public/app.min.js",
		"a/b/__pycache__/x.py",
	}
	for _, p := range denied {
		if !isDeniedPath(p) {
			t.Fatalf("isDeniedPath(%q)=false, want true", p)
		}
	}
	allowed := []string{"src/build.ts", "distribution/readme.md", "vendorized.go"}
	for _, p := range allowed {
		if isDeniedPath(p) {
			t.Fatalf("isDeniedPath(%q)=true, want false", p)
		}
	}
}
