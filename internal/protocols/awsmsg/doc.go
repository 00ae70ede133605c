// Package awsmsg imports automated warning system (AWS) message files and
// puts their messages on NTCIP signs.
//
// The vendor file holds one sign message per line, fields separated by ';':
//
//	date;dms id;description;page 1 font;page 2 font;row 1;...;row 6;page on time[;ignored]
//
// The date is local time in the form yyyyMMddHHmmss. Rows 1-3 make the
// first page and rows 4-6 an optional second page. Signs opt in with the
// controller parameter "aws_id" naming the id used in the file.
package awsmsg
