// Package requestid tags every API request with a correlation id taken from
// the X-Request-ID header or generated as a UUID, stores it in the request
// context and echoes it back. LoggerExtractor plugs the id into pkg/logger
// so every log line written while serving the request carries request_id.
package requestid
