package mcpserver

// PageFormatContract describes the content file format quill renders, for
// agents that write pages into the content tree.
const PageFormatContract = `# Quill Page Format

Every page is a Markdown file under the content root. Its route comes from
its path: ` + "`a/b.md`" + ` is served at ` + "`/a/b`" + `, ` + "`a/index.md`" + ` at ` + "`/a`" + `,
and ` + "`index.md`" + ` at ` + "`/`" + `. ` + "`.markdown`" + ` works the same way.

## Structure

` + "```" + `markdown
---
title: Human-readable title      # used in layouts, lists and search
description: One line summary    # OPTIONAL
tags: [go, tooling]              # OPTIONAL; inline #hashtags are collected too
published: 2025-01-15            # OPTIONAL; orders collection pages, newest first
draft: true                      # OPTIONAL; hidden outside development mode
layout: page                     # OPTIONAL; template name, default "page"
expand: true                     # OPTIONAL; run the body through text/template first
---

Body text in Markdown (GitHub flavoured).
` + "```" + `

## Rules

1. Front-matter is optional, but when present it must be valid YAML between
   two ` + "`---`" + ` lines at the very top of the file. Invalid YAML fails the page.
2. Without a ` + "`title`" + `, the first ` + "`# heading`" + ` of the body is used.
3. Raw HTML in the body is dropped. Use Markdown.
4. Fenced code blocks with a language tag are highlighted when the language
   is configured; anything else is shown as plain escaped text.
5. With ` + "`expand: true`" + ` the body may use ` + "`{{ .Page.Title }}`" + `, ` + "`{{ .Site.Title }}`" + `
   and the template helpers (date, comma, bytes, ordinal). A missing key
   fails the page.
6. Files in a collection directory (for example ` + "`posts/`" + `) are listed on
   ` + "`/posts`" + ` and ` + "`/posts/page/N`" + `; ` + "`posts/index.md`" + ` is shadowed by the list.
7. Other files (css, js, images, fonts) are served unchanged at their own path.
`
