// Package interdoc reads the parsed document produced by the external
// parser.
//
// An interdoc is written once per file hash and never modified. Loading
// applies the page-spanning merge rules: tables that belong to a combo
// table become one logical table and page-merged paragraphs collapse into
// their first fragment. Everything downstream (the coarse locator, the
// precise extractor and answer export) reads documents through Reader.
package interdoc
