package storage

import "encoding/xml"

type listBucketResult struct {
	XMLName               xml.Name         `xml:"ListBucketResult"`
	IsTruncated           bool             `xml:"IsTruncated"`
	NextContinuationToken string           `xml:"NextContinuationToken"`
	Contents              []listObject     `xml:"Contents"`
	CommonPrefixes        []commonPrefix   `xml:"CommonPrefixes"`
}

type listObject struct {
	Key  string `xml:"Key"`
	Size int64  `xml:"Size"`
}

type commonPrefix struct {
	Prefix string `xml:"Prefix"`
}

// parseListBucketResult decodes an S3 ListObjectsV2 XML response into
// Entry values: objects become files, common prefixes (only present for a
// delimited, non-deep listing) become directories.
func parseListBucketResult(body []byte) (entries []Entry, truncated bool, nextToken string, err error) {
	var result listBucketResult
	if err := xml.Unmarshal(body, &result); err != nil {
		return nil, false, "", err
	}

	for _, obj := range result.Contents {
		entries = append(entries, Entry{Type: EntryFile, Path: obj.Key, Size: obj.Size})
	}
	for _, cp := range result.CommonPrefixes {
		entries = append(entries, Entry{Type: EntryDir, Path: cp.Prefix})
	}
	return entries, result.IsTruncated, result.NextContinuationToken, nil
}
