package server

import (
	"embed"
	"html/template"
	"io/fs"
	"net/http"

	"github.com/dgellow/changebank/internal/log"
)

//go:embed templates/home.html
var homePageHTML string

//go:embed templates/account.html
var accountPageHTML string

//go:embed templates/make-change.html
var makeChangePageHTML string

//go:embed templates/error.html
var errorPageHTML string

//go:embed static
var staticFS embed.FS

var (
	homePage       = template.Must(template.New("home").Parse(homePageHTML))
	accountPage    = template.Must(template.New("account").Parse(accountPageHTML))
	makeChangePage = template.Must(template.New("make-change").Parse(makeChangePageHTML))
	errorPage      = template.Must(template.New("error").Parse(errorPageHTML))
)

func renderPage(w http.ResponseWriter, tpl *template.Template, data any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := tpl.Execute(w, data); err != nil {
		log.LogError("Failed to render %s page: %v", tpl.Name(), err)
	}
}

func staticHandler() http.Handler {
	sub, err := fs.Sub(staticFS, "static")
	if err != nil {
		panic(err)
	}
	return http.StripPrefix("/static/", http.FileServerFS(sub))
}
