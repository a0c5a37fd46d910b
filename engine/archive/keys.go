// Package archive is the authoritative catalog of ingested research articles.
// It owns the article index snapshot, the structured-document store, and the
// derived digest objects, all laid out under a single namespace prefix in the
// blob store.
package archive

import (
	"fmt"
	"strings"
)

// DefaultPrefix is the blob namespace used in deployment.
const DefaultPrefix = "macro"

// indexObject is the snapshot object name within {prefix}/structure/.
const indexObject = "articles_info.json"

func (a *Archive) indexKey() string {
	return fmt.Sprintf("%s/structure/%s", a.prefix, indexObject)
}

func (a *Archive) documentKey(fileName string) string {
	return fmt.Sprintf("%s/structure/%s", a.prefix, jsonName(fileName))
}

func (a *Archive) pdfKey(date, fileName string) string {
	return fmt.Sprintf("%s/pdfs/%s/%s", a.prefix, date, fileName)
}

func (a *Archive) digestKey(date string) string {
	return fmt.Sprintf("%s/marketsense/marketdigest_%s.json", a.prefix, date)
}

func (a *Archive) wixDigestKey(date string) string {
	return fmt.Sprintf("%s/website/marketdigestWix_%s.json", a.prefix, date)
}

// jsonName swaps the .pdf extension for .json.
func jsonName(fileName string) string {
	return strings.TrimSuffix(fileName, ".pdf") + ".json"
}
