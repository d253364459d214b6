// Package useragent supplies browser-like default headers and rotating
// User-Agent sources.
package useragent
