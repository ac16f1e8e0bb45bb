// Package storage owns the on-disk layout of editing sessions.
//
// Each session lives in <data_dir>/sessions/<uuid>/ with assets/, assets/thumbs/,
// renders/ and tmp/ subdirectories plus three JSON documents (session.json,
// project.json, assets-meta.json). Every resolver validates identifiers and
// verifies the joined path stays inside the session root, and every document
// write goes through fileutil.WriteFileAtomic.
package storage
