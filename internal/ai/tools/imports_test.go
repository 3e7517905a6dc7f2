package tools

import (
	"context"
	"testing"

	"github.com/floegence/reposcout/internal/repo"
	"github.com/google/go-cmp/cmp"
)

const sampleModule = `import React, { useState, useEffect as useFx } from 'react';
import * as path from "path";
import type { Config } from './config';
import './styles.css';
import {
  useState,
  useMemo,
} from 'react';
const fs = require('fs');
const { join, resolve: res } = require('path');
const lazy = () => import('./lazy');

export function helper() {}
export async function load() {}
export const VERSION = '1';
export class Store {}
export interface Props {}
export type ID = string;
export enum Color { Red }
export default function App() {}
export { helper as help, VERSION };
export * from './types';
export * as utils from './utils';
export { Thing } from './thing';
`

func TestExtractImportsExports_Script(t *testing.T) {
	t.Parallel()

	res := ExtractImportsExports("src/App.tsx", sampleModule)
	if res.Language != "typescript" {
		t.Fatalf("language=%q", res.Language)
	}

	wantImports := []ImportEntry{
		{Source: "react", Specifiers: []string{"React", "useEffect as useFx", "useMemo", "useState"}, Kinds: []string{"default", "named"}},
		{Source: "path", Specifiers: []string{"* as path", "join", "resolve as res"}, Kinds: []string{"namespace", "require"}},
		{Source: "./config", Specifiers: []string{"Config"}, Kinds: []string{"named", "type"}},
		{Source: "./styles.css", Kinds: []string{"side_effect"}},
		{Source: "fs", Specifiers: []string{"fs"}, Kinds: []string{"require"}},
		{Source: "./lazy", Kinds: []string{"dynamic"}},
	}
	if diff := cmp.Diff(wantImports, res.Imports); diff != "" {
		t.Fatalf("imports (-want +got):\n%s", diff)
	}

	wantExports := []ExportEntry{
		{Name: "helper", Kind: "function"},
		{Name: "load", Kind: "function"},
		{Name: "VERSION", Kind: "const"},
		{Name: "Store", Kind: "class"},
		{Name: "Props", Kind: "interface"},
		{Name: "ID", Kind: "type"},
		{Name: "Color", Kind: "enum"},
		{Name: "App", Kind: "default"},
		{Name: "help", Kind: "named"},
		{Name: "VERSION", Kind: "named"},
		{Name: "Thing", Kind: "reexport", Source: "./thing"},
		{Name: "*", Kind: "reexport", Source: "./types"},
		{Name: "utils", Kind: "reexport", Source: "./utils"},
	}
	if diff := cmp.Diff(wantExports, res.Exports); diff != "" {
		t.Fatalf("exports (-want +got):\n%s", diff)
	}
}

func TestExtractImportsExports_DefaultForms(t *testing.T) {
	t.Parallel()

	res := ExtractImportsExports("a.js", "export default class extends Base {}\nmodule.exports = {}\nexports.run = run\n")
	want := []ExportEntry{
		{Name: "default", Kind: "default"},
		{Name: "module.exports", Kind: "commonjs"},
		{Name: "run", Kind: "commonjs"},
	}
	if diff := cmp.Diff(want, res.Exports); diff != "" {
		t.Fatalf("exports (-want +got):\n%s", diff)
	}

	res = ExtractImportsExports("b.ts", "const App = () => null\nexport default App\n")
	if diff := cmp.Diff([]ExportEntry{{Name: "App", Kind: "default"}}, res.Exports); diff != "" {
		t.Fatalf("exports (-want +got):\n%s", diff)
	}
}

func TestExtractImportsExports_Go(t *testing.T) {
	t.Parallel()

	src := "package x\n\nimport (\n\t\"context\"\n\tlog \"log/slog\"\n)\n\nimport \"fmt\"\n\nfunc Run() {}\nfunc (s *S) Close() error { return nil }\ntype S struct{}\nfunc helper() {}\n"
	res := ExtractImportsExports("x/x.go", src)
	wantImports := []ImportEntry{
		{Source: "fmt", Kinds: []string{"named"}},
		{Source: "context", Kinds: []string{"named"}},
		{Source: "log/slog", Specifiers: []string{"log"}, Kinds: []string{"named"}},
	}
	if diff := cmp.Diff(wantImports, res.Imports); diff != "" {
		t.Fatalf("imports (-want +got):\n%s", diff)
	}
	wantExports := []ExportEntry{
		{Name: "Run", Kind: "func"},
		{Name: "Close", Kind: "func"},
		{Name: "S", Kind: "type"},
	}
	if diff := cmp.Diff(wantExports, res.Exports); diff != "" {
		t.Fatalf("exports (-want +got):\n%s", diff)
	}
}

func TestExtractImportsExports_Python(t *testing.T) {
	t.Parallel()

	src := "import os, sys as system\nfrom typing import (\n    Any,\n    Optional,\n)\nfrom .models import User\n"
	res := ExtractImportsExports("app/main.py", src)
	want := []ImportEntry{
		{Source: "os", Kinds: []string{"namespace"}},
		{Source: "sys", Specifiers: []string{"* as system"}, Kinds: []string{"namespace"}},
		{Source: "typing", Specifiers: []string{"Any", "Optional"}, Kinds: []string{"named"}},
		{Source: ".models", Specifiers: []string{"User"}, Kinds: []string{"named"}},
	}
	if diff := cmp.Diff(want, res.Imports); diff != "" {
		t.Fatalf("imports (-want +got):\n%s", diff)
	}
}

func TestExtractImportsExports_Unsupported(t *testing.T) {
	t.Parallel()

	res := ExtractImportsExports("README.md", "import x from 'y'")
	if res.Note == "" || len(res.Imports) != 0 || len(res.Exports) != 0 {
		t.Fatalf("result=%+v", res)
	}
}

func TestImportsExportsCapability(t *testing.T) {
	t.Parallel()

	gw := repo.NewMemory(map[string]string{"src/App.tsx": sampleModule})
	ex := newTestExecutor(t, gw, Limits{})
	res, err := ex.importsExports(context.Background(), map[string]any{"path": "src/App.tsx"})
	if err != nil {
		t.Fatalf("imports: %v", err)
	}
	if res.Path != "src/App.tsx" || len(res.Imports) == 0 || len(res.Exports) == 0 {
		t.Fatalf("result=%+v", res)
	}
}
