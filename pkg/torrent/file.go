package torrent

import (
	"crypto/sha1"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/afero"

	"github.com/Phil9l/bittorrent/pkg/bencode"
)

var (
	ErrInvalidTorrent  = errors.New("not a valid torrent file")
	ErrMissingInfoDict = fmt.Errorf("%w: info dictionary is missing", ErrInvalidTorrent)
)

type DownloadFile struct {
	Length int64
	MD5Sum string   // empty if absent
	Path   []string // nil if absent
}

type DownloadInfo struct {
	Name        string
	PieceLength int64
	PieceHashes []Hash
	Files       []DownloadFile
}

// File is the parsed metainfo of a .torrent file. It must not be modified
// after parsing.
type File struct {
	TorrentFileName string
	Announce        string
	AnnounceList    [][]string
	Comment         string
	CreatedBy       string
	CreationDate    time.Time // zero if absent or unparseable
	Info            DownloadInfo
	InfoHash        Hash
}

func Open(fs afero.Fs, torrentFileName string) (*File, error) {
	file, err := fs.Open(torrentFileName)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	torrent, err := Parse(file)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", torrentFileName, err)
	}
	torrent.TorrentFileName = torrentFileName
	return torrent, nil
}

func Parse(r io.Reader) (*File, error) {
	benType, err := bencode.Decode(r)
	if err != nil {
		return nil, err
	}
	return FromBenType(benType)
}

// FromBenType builds a File from an already decoded metainfo dictionary.
func FromBenType(benType bencode.BenType) (*File, error) {
	torrent := &File{}
	if err := torrent.unmarshal(benType); err != nil {
		return nil, err
	}
	return torrent, nil
}

func (f *File) PiecesCount() int {
	return len(f.Info.PieceHashes)
}

func (f *File) DownloadFilesCount() int {
	return len(f.Info.Files)
}

func (f *File) TotalLength() int64 {
	var total int64
	for _, file := range f.Info.Files {
		total += file.Length
	}
	return total
}

func (f *File) HasCreationDate() bool {
	return !f.CreationDate.IsZero()
}

// AnnounceURL appends params to the announce URL, respecting a query string
// the announce URL may already carry.
func (f *File) AnnounceURL(params url.Values) string {
	separator := "?"
	if strings.Contains(f.Announce, "?") {
		separator = "&"
	}
	return f.Announce + separator + params.Encode()
}

func (f *File) unmarshal(benType bencode.BenType) error {
	if f == nil {
		panic("torrent must be not nil")
	}
	dict, ok := benType.(*bencode.Dictionary)
	if !ok {
		return fmt.Errorf("%w: torrent must be a dictionary", ErrInvalidTorrent)
	}

	infoDict, ok := dict.Get("info").(*bencode.Dictionary)
	if !ok {
		return ErrMissingInfoDict
	}

	announce, ok := dict.Get("announce").(*bencode.String)
	if !ok {
		return fmt.Errorf("%w: announce must be a string", ErrInvalidTorrent)
	}

	announceList, err := unmarshalAnnounceList(dict.Get("announce-list"))
	if err != nil {
		return err
	}
	comment, err := optionalString(dict, "comment")
	if err != nil {
		return err
	}
	createdBy, err := optionalString(dict, "created by")
	if err != nil {
		return err
	}

	info, err := unmarshalInfo(infoDict)
	if err != nil {
		return err
	}

	// the decoded dict itself is re-encoded, so keys we don't interpret
	// still take part in the hash
	infoEncoded, err := bencode.Marshal(infoDict)
	if err != nil {
		return fmt.Errorf("unable to encode info: %w", err)
	}

	f.Announce = announce.Value()
	f.AnnounceList = announceList
	f.Comment = comment
	f.CreatedBy = createdBy
	f.CreationDate, _ = parseCreationDate(dict.Get("creation date"))
	f.Info = info
	f.InfoHash = sha1.Sum(infoEncoded)
	return nil
}

func unmarshalInfo(infoDict *bencode.Dictionary) (DownloadInfo, error) {
	info := DownloadInfo{}

	// filename or dirname depending on mode bellow
	name, ok := infoDict.Get("name").(*bencode.String)
	if !ok {
		return info, fmt.Errorf("%w: name must be a string", ErrInvalidTorrent)
	}

	pieceLength, ok := infoDict.Get("piece length").(*bencode.Integer)
	if !ok || pieceLength.Value() <= 0 {
		return info, fmt.Errorf("%w: piece length must be a positive integer", ErrInvalidTorrent)
	}

	pieces, ok := infoDict.Get("pieces").(*bencode.String)
	if !ok {
		return info, fmt.Errorf("%w: pieces must be bytes", ErrInvalidTorrent)
	}
	piecesBytes := pieces.Bytes()
	if len(piecesBytes)%HashSize != 0 {
		return info, fmt.Errorf("%w: malformed pieces, must be multiple of %d", ErrInvalidTorrent, HashSize)
	}
	piecesCount := len(piecesBytes) / HashSize
	pieceHashes := make([]Hash, piecesCount)
	for i := 0; i < piecesCount; i++ {
		offset := i * HashSize
		pieceHashes[i] = (Hash)(piecesBytes[offset : offset+HashSize])
	}

	var files []DownloadFile
	if filesList, ok := infoDict.Get("files").(*bencode.List); ok { // multiple file mode
		files = make([]DownloadFile, 0, filesList.Len())
		for i, fileBenType := range filesList.Value() {
			fileDict, ok := fileBenType.(*bencode.Dictionary)
			if !ok {
				return info, fmt.Errorf("%w: files[%d] isn't a dict", ErrInvalidTorrent, i)
			}
			file, err := unmarshalDownloadFile(fileDict)
			if err != nil {
				return info, fmt.Errorf("%w: files[%d]: %s", ErrInvalidTorrent, i, err)
			}
			files = append(files, file)
		}
	} else if infoDict.Has("files") {
		return info, fmt.Errorf("%w: files must be a list", ErrInvalidTorrent)
	} else { // single file mode
		file, err := unmarshalDownloadFile(infoDict)
		if err != nil {
			return info, fmt.Errorf("%w: %s", ErrInvalidTorrent, err)
		}
		if file.Path == nil {
			file.Path = []string{name.Value()}
		}
		files = []DownloadFile{file}
	}

	info.Name = name.Value()
	info.PieceLength = pieceLength.Value()
	info.PieceHashes = pieceHashes
	info.Files = files
	return info, nil
}

func unmarshalDownloadFile(fileDict *bencode.Dictionary) (DownloadFile, error) {
	file := DownloadFile{}
	length, ok := fileDict.Get("length").(*bencode.Integer)
	if !ok || length.Value() < 0 {
		return file, errors.New("length must be a non-negative integer")
	}
	file.Length = length.Value()

	if md5sum := fileDict.Get("md5sum"); md5sum != nil {
		md5sumStr, ok := md5sum.(*bencode.String)
		if !ok {
			return file, errors.New("md5sum must be a string")
		}
		file.MD5Sum = md5sumStr.Value()
	}

	if path := fileDict.Get("path"); path != nil {
		pathList, ok := path.(*bencode.List)
		if !ok {
			return file, errors.New("path must be a list")
		}
		file.Path = make([]string, 0, pathList.Len())
		for _, elem := range pathList.Value() {
			elemStr, ok := elem.(*bencode.String)
			if !ok {
				return file, errors.New("path elem must be a string")
			}
			file.Path = append(file.Path, elemStr.Value())
		}
	}
	return file, nil
}

func unmarshalAnnounceList(benType bencode.BenType) ([][]string, error) {
	if benType == nil {
		return nil, nil
	}
	tiers, ok := benType.(*bencode.List)
	if !ok {
		return nil, fmt.Errorf("%w: announce-list must be a list", ErrInvalidTorrent)
	}
	announceList := make([][]string, 0, tiers.Len())
	for _, tierBenType := range tiers.Value() {
		tier, ok := tierBenType.(*bencode.List)
		if !ok {
			return nil, fmt.Errorf("%w: announce-list tier must be a list", ErrInvalidTorrent)
		}
		urls := make([]string, 0, tier.Len())
		for _, urlBenType := range tier.Value() {
			u, ok := urlBenType.(*bencode.String)
			if !ok {
				return nil, fmt.Errorf("%w: announce-list url must be a string", ErrInvalidTorrent)
			}
			urls = append(urls, u.Value())
		}
		announceList = append(announceList, urls)
	}
	return announceList, nil
}

func optionalString(dict *bencode.Dictionary, key string) (string, error) {
	benType := dict.Get(key)
	if benType == nil {
		return "", nil
	}
	str, ok := benType.(*bencode.String)
	if !ok {
		return "", fmt.Errorf("%w: %s must be a string", ErrInvalidTorrent, key)
	}
	return str.Value(), nil
}

var (
	minCreationDate = time.Date(1, time.January, 1, 0, 0, 0, 0, time.UTC).Unix()
	maxCreationDate = time.Date(9999, time.December, 31, 23, 59, 59, 0, time.UTC).Unix()
)

// parseCreationDate accepts an integer or a decimal string of seconds since
// the epoch. Anything else, including out of range values, is reported as
// absent.
func parseCreationDate(benType bencode.BenType) (time.Time, bool) {
	var seconds int64
	switch t := benType.(type) {
	case *bencode.Integer:
		seconds = t.Value()
	case *bencode.String:
		parsed, err := strconv.ParseInt(strings.TrimSpace(t.Value()), 10, 64)
		if err != nil {
			return time.Time{}, false
		}
		seconds = parsed
	default:
		return time.Time{}, false
	}
	if seconds < minCreationDate || seconds > maxCreationDate {
		return time.Time{}, false
	}
	return time.Unix(seconds, 0).UTC(), true
}
