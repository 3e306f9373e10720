// Package materials provides the course material store: a hierarchical
// repository of folders, files, links, inline text and embedded content.
//
// Small structured metadata lives in a Repository (memory, Postgres) while
// potentially large payloads are streamed in fixed-size chunks through a
// ContentStore backed by a pluggable ChunkBackend (memory, filesystem,
// Postgres, S3, badger).
//
// Materials are created and loaded through the Store, which is the single
// point of variant dispatch:
//
//	m, err := store.Create(materials.TypeFile)
//	m.SetCourseID(courseID)
//	m.SetName("syllabus.pdf")
//	err = m.LoadContentFrom(ctx, upload)
//
// A material loaded by id starts as an unloaded Ref; EnsureLoaded performs the
// single metadata round trip:
//
//	m, err := store.Load(id).EnsureLoaded(ctx)
//
// Cascading deletes and relocation are tree operations on the Store
// (DeleteTree, Move).
package materials
