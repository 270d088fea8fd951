// Package storage keeps an audit log of delivery outcomes (sent, failed,
// dropped, cancelled) for the ops API and post-mortems.
package storage
