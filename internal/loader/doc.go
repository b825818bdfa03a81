// Package loader fetches the documents shown by the web surface.
//
// URIs starting with http:// or https:// are fetched with resty behind a
// circuit breaker per host. about:blank is served inline. Anything else,
// with or without the asset:// scheme, is a file under the asset root and
// must match one of the configured doublestar patterns. Files ending in .gz
// are decompressed.
//
// Every document is sniffed and must be text. Documents that are not valid
// UTF-8 are transcoded, using the declared charset when the server sent one
// and chardet's best guess otherwise.
package loader
