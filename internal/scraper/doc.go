// Package scraper fetches race registration pages and extracts their visible text.
//
// The scraper package is the page fetcher of the availability pipeline. The HTTP
// Scraper sends a single GET with the configured user agent and timeout, decodes the
// body to UTF-8 from whatever charset the page declares, and flattens the HTML to
// space-separated visible text with goquery (scripts, styles and templates dropped).
// BrowserFetcher renders the page in headless Chrome first, for registration pages
// that only fill in their content from JavaScript. Failures are reported as
// *FetchError values and never retried here.
package scraper
