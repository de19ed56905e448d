// Package tarbgz provides random access to members of BGZF-compressed tar
// archives through a side index.
//
// BGZF compresses a stream as a series of independent gzip blocks, so any
// position in the decompressed stream can be reached by decompressing a
// single block. An [Index] records, for every archive member, the virtual
// offset of the block where the member's header begins. Extracting one member
// then costs a seek and a few blocks of decompression instead of a walk
// through the whole archive.
//
// Archives consist of two files:
//   - The archive itself: an ordinary tar stream compressed with BGZF
//     (for example with bgzip, or [github.com/meigma/tarbgz/cmd/tarbgz] compress)
//   - The index: a FlatBuffers-encoded list of members with their coordinates,
//     optionally wrapped in zstd
//
// # Quick Start
//
// Build and save an index:
//
//	src, err := tarbgz.OpenFile("backup.tar.gz")
//	if err != nil {
//	    return err
//	}
//	defer src.Close()
//
//	idx, err := tarbgz.Build(ctx, src, tarbgz.BuildWithDigest(true))
//	if err != nil {
//	    return err
//	}
//	err = idx.Save("backup.tar.gz.index")
//
// Extract one member:
//
//	idx, err := tarbgz.LoadFile("backup.tar.gz.index")
//	if err != nil {
//	    return err
//	}
//	f, err := tarbgz.Extract(idx, src, "etc/nginx/nginx.conf")
//	if err != nil {
//	    return err
//	}
//	defer f.Close()
//	_, err = io.Copy(os.Stdout, f)
//
// # File System
//
// [Archive] pairs an index with its archive and implements [io/fs.FS], so
// members can be read with [io/fs.ReadFile], walked with [io/fs.WalkDir], or
// extracted to disk with [Archive.ExtractTo].
package tarbgz
